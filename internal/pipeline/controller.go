package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"dq-engine/internal/logs"
	"dq-engine/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type PipelineController struct {
	Service PipelineServiceAPI
	LS      logs.LogServicePort
}

// TriggerRun runs synchronously and answers with the run result. A run
// whose steps failed is still a 200; the status is in the body.
func (pc *PipelineController) TriggerRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := pc.Service.TriggerRun(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrInvalidDate):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrDataSourceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	logs.Record(pc.LS, c, "pipeline", "pipeline.run",
		fmt.Sprintf("run %d for data source %d %s", res.RunID, res.DataSourceID, res.Status),
		map[string]any{"run_id": res.RunID, "status": res.Status, "force": req.Force})
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (pc *PipelineController) GetRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	res, err := pc.Service.GetRun(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}
