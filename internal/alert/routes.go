package alert

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r gin.IRouter, alertService AlertServiceAPI) {
	alertController := &AlertController{Service: alertService}

	r.GET("/alerts", alertController.ListAlerts)
	r.GET("/alerts/:global_id", alertController.GetAlert)
}
