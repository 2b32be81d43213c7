package logs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// SystemLog is one audit entry for an action taken through the API or CLI.
type SystemLog struct {
	ID        uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	Level     string            `gorm:"size:20;not null" json:"level"`
	Service   string            `gorm:"size:100;not null;index" json:"service"`
	Principal string            `gorm:"size:255;index" json:"principal,omitempty"`
	Action    string            `gorm:"size:255;not null;index" json:"action"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (SystemLog) TableName() string {
	return "logs"
}

type LogFilterInput struct {
	Level     *string `form:"level"`
	Service   *string `form:"service"`
	Action    *string `form:"action"`
	Principal *string `form:"principal"`
	StartDate *string `form:"start_date"`
	EndDate   *string `form:"end_date"`
	Search    *string `form:"search"`
	Limit     int     `form:"limit"`
	Offset    int     `form:"offset"`
}

type AggItem struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type LogAggregates struct {
	ByAction    []AggItem `json:"by_action"`
	ByPrincipal []AggItem `json:"by_principal"`
}
