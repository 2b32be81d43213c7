package catalog

import (
	"dq-engine/internal/logs"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r gin.IRouter, catalogService CatalogServiceAPI, logService logs.LogServicePort) {
	catalogController := &CatalogController{Service: catalogService, LS: logService}

	r.POST("/datasources", catalogController.CreateDataSource)
	r.GET("/datasources", catalogController.ListDataSources)
	r.GET("/datasources/:id", catalogController.GetDataSource)
	r.GET("/datasources/:id/tables", catalogController.ListTables)
	r.GET("/tables/:id/fields", catalogController.ListFields)
	r.GET("/fields/:id/stats", catalogController.ListFieldStats)
	r.GET("/fields/:id/constraints", catalogController.ListFieldConstraints)
	r.POST("/fields/:id/constraints", catalogController.CreateFieldConstraint)
}
