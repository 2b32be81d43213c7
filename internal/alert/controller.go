package alert

import (
	"errors"
	"net/http"

	"dq-engine/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AlertController struct {
	Service AlertServiceAPI
}

func (ac *AlertController) ListAlerts(c *gin.Context) {
	var filter AlertFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alerts, total, err := ac.Service.ListAlerts(&filter)
	if err != nil {
		if errors.Is(err, util.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, util.Envelope[Alert]{
		Data:   alerts,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (ac *AlertController) GetAlert(c *gin.Context) {
	alert, err := ac.Service.GetAlert(c.Param("global_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alert})
}
