package auth

import (
	"dq-engine/internal/logs"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r gin.IRouter, keyService APIKeyServicePort, logService logs.LogServicePort) {
	keyController := &APIKeyController{Service: keyService, LS: logService}

	r.POST("/apikeys", keyController.CreateAPIKey)
	r.GET("/apikeys", keyController.ListAPIKeys)
	r.DELETE("/apikeys/:global_id", keyController.RevokeAPIKey)
}
