package auth

import (
	"errors"
	"net/http"

	"dq-engine/internal/logs"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type APIKeyController struct {
	Service APIKeyServicePort
	LS      logs.LogServicePort
}

func (kc *APIKeyController) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, plain, err := kc.Service.CreateAPIKey(req.Name)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs.Record(kc.LS, c, "auth", "apikey.create", "created api key "+key.Name, map[string]any{"api_key_id": key.GlobalID})
	c.JSON(http.StatusCreated, gin.H{"data": CreateAPIKeyResponse{Key: plain, APIKey: key}})
}

func (kc *APIKeyController) ListAPIKeys(c *gin.Context) {
	keys, err := kc.Service.ListAPIKeys()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (kc *APIKeyController) RevokeAPIKey(c *gin.Context) {
	globalID := c.Param("global_id")
	if err := kc.Service.RevokeAPIKey(globalID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs.Record(kc.LS, c, "auth", "apikey.revoke", "revoked api key "+globalID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "api key revoked"})
}
