package alert

import (
	"fmt"
	"time"

	"dq-engine/internal/catalog"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Alert is the persisted state of an anomaly on one entity. At most one
// active alert exists per (data_source_id, table_id, field_id, alert_type).
type Alert struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	catalog.BaseModel
	DataSourceID uint              `gorm:"not null;index:ix_alert_entity" json:"data_source_id"`
	TableID      *uint             `gorm:"index:ix_alert_entity" json:"table_id,omitempty"`
	FieldID      *uint             `gorm:"index:ix_alert_entity" json:"field_id,omitempty"`
	AlertType    string            `gorm:"size:100;not null;index:ix_alert_entity" json:"alert_type"`
	Name         string            `gorm:"size:512;not null" json:"name"`
	Severity     string            `gorm:"size:20;not null" json:"severity"`
	Status       Status            `gorm:"size:20;not null;index" json:"status"`
	Details      datatypes.JSONMap `json:"details"`
	TriggeredAt  time.Time         `gorm:"not null;index" json:"triggered_at"`
	LastSeenAt   time.Time         `gorm:"not null" json:"last_seen_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
	MissCount    int               `gorm:"not null;default:0" json:"miss_count"`
}

func (Alert) TableName() string { return "alerts" }

func (a Alert) key() entityKey {
	return entityKey{DataSourceID: a.DataSourceID, TableID: deref(a.TableID), FieldID: deref(a.FieldID), AlertType: a.AlertType}
}

type entityKey struct {
	DataSourceID uint
	TableID      uint
	FieldID      uint
	AlertType    string
}

type entityRef struct {
	TableID uint
	FieldID uint
}

func deref(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}

// DisplayName labels an alert by type and the entity it is attached to.
func DisplayName(alertType, entity string) string {
	if entity == "" {
		return alertType
	}
	return fmt.Sprintf("%s on %s", alertType, entity)
}
