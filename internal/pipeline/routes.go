package pipeline

import (
	"dq-engine/internal/logs"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r gin.IRouter, pipelineService PipelineServiceAPI, logService logs.LogServicePort) {
	pipelineController := &PipelineController{Service: pipelineService, LS: logService}

	r.POST("/pipelines/run", pipelineController.TriggerRun)
	r.GET("/pipelines/runs/:id", pipelineController.GetRun)
}
