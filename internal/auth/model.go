package auth

import (
	"time"

	"dq-engine/internal/catalog"
)

// APIKey authenticates machine callers. Only the bcrypt hash of the key is
// stored; Prefix locates the row without revealing the secret.
type APIKey struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	catalog.BaseModel
	Name       string     `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Prefix     string     `gorm:"size:16;uniqueIndex;not null" json:"prefix"`
	Hash       string     `gorm:"not null" json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

type CreateAPIKeyResponse struct {
	Key    string  `json:"key"`
	APIKey *APIKey `json:"api_key"`
}

func Models() []any {
	return []any{&APIKey{}}
}
