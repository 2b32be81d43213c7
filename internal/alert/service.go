package alert

import (
	"strings"

	"dq-engine/internal/util"

	"gorm.io/gorm"
)

type AlertService struct {
	DB *gorm.DB
}

func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{DB: db}
}

type AlertFilter struct {
	DataSourceID *uint   `form:"data_source_id"`
	TableID      *uint   `form:"table_id"`
	FieldID      *uint   `form:"field_id"`
	Status       *string `form:"status" binding:"omitempty,oneof=active resolved"`
	Severity     *string `form:"severity" binding:"omitempty,oneof=info warning critical"`
	AlertType    *string `form:"alert_type"`

	StartDate *string `form:"start_date"` // "YYYY-MM-DD" or RFC3339
	EndDate   *string `form:"end_date"`

	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ListAlerts returns alerts newest first. The filter's Limit and Offset are
// clamped in place.
func (as *AlertService) ListAlerts(filter *AlertFilter) ([]Alert, int64, error) {
	filter.Limit, filter.Offset = util.ClampLimitOffset(filter.Limit, filter.Offset)

	base := as.DB.Model(&Alert{})
	if filter.DataSourceID != nil {
		base = base.Where("data_source_id = ?", *filter.DataSourceID)
	}
	if filter.TableID != nil {
		base = base.Where("table_id = ?", *filter.TableID)
	}
	if filter.FieldID != nil {
		base = base.Where("field_id = ?", *filter.FieldID)
	}
	if filter.Status != nil && strings.TrimSpace(*filter.Status) != "" {
		base = base.Where("status = ?", strings.TrimSpace(*filter.Status))
	}
	if filter.Severity != nil && strings.TrimSpace(*filter.Severity) != "" {
		base = base.Where("severity = ?", strings.TrimSpace(*filter.Severity))
	}
	if filter.AlertType != nil && strings.TrimSpace(*filter.AlertType) != "" {
		base = base.Where("alert_type = ?", strings.TrimSpace(*filter.AlertType))
	}

	start, hasStart, endExclusive, hasEnd, err := util.ParseDateRange(filter.StartDate, filter.EndDate)
	if err != nil {
		return nil, 0, err
	}
	if hasStart {
		base = base.Where("triggered_at >= ?", start)
	}
	if hasEnd {
		base = base.Where("triggered_at < ?", endExclusive)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	alerts := []Alert{}
	if err := base.Session(&gorm.Session{}).
		Order("triggered_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&alerts).Error; err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (as *AlertService) GetAlert(globalID string) (*Alert, error) {
	var a Alert
	if err := as.DB.Where("global_id = ?", globalID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
