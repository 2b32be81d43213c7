package logs

import (
	"errors"
	"net/http"

	"dq-engine/internal/util"

	"github.com/gin-gonic/gin"
)

type LogController struct {
	LogService LogServicePort
}

func (lc *LogController) GetLogs(c *gin.Context) {
	var input LogFilterInput
	if err := c.ShouldBindQuery(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, aggs, total, err := lc.LogService.GetLogs(&input)
	if err != nil {
		if errors.Is(err, util.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       rows,
		"total":      total,
		"limit":      input.Limit,
		"offset":     input.Offset,
		"aggregates": aggs,
	})
}

// Record writes an audit entry for the authenticated caller. Failures are
// dropped; auditing never fails the request.
func Record(ls LogServicePort, c *gin.Context, service, action, message string, metadata any) {
	if ls == nil {
		return
	}
	_ = ls.Log(SystemLog{
		Level:     LevelInfo,
		Service:   service,
		Principal: c.GetString("principal"),
		Action:    action,
		Message:   message,
	}, metadata)
}
