package logs

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r gin.IRouter, logService LogServicePort) {
	logController := &LogController{LogService: logService}

	r.GET("/logs", logController.GetLogs)
}
