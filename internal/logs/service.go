package logs

import (
	"encoding/json"
	"fmt"
	"strings"

	"dq-engine/internal/util"

	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const aggregateLimit = 12

type LogService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewLogService(db *gorm.DB, clock clockwork.Clock) *LogService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LogService{DB: db, Clock: clock}
}

// Log stores entry with metadata flattened to a JSON object. Metadata that
// does not encode to an object is stored under "value".
func (ls *LogService) Log(entry SystemLog, metadata any) error {
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	entry.ID = 0
	entry.CreatedAt = ls.Clock.Now().UTC()
	if metadata != nil {
		meta, err := toJSONMap(metadata)
		if err != nil {
			return fmt.Errorf("encode log metadata: %w", err)
		}
		entry.Metadata = meta
	}
	return ls.DB.Create(&entry).Error
}

func toJSONMap(v any) (datatypes.JSONMap, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return datatypes.JSONMap{"value": json.RawMessage(b)}, nil
	}
	return out, nil
}

// GetLogs filters, pages and aggregates the audit log, newest first. The
// clamped limit and offset are written back to input.
func (ls *LogService) GetLogs(input *LogFilterInput) ([]SystemLog, LogAggregates, int64, error) {
	input.Limit, input.Offset = util.ClampLimitOffset(input.Limit, input.Offset)

	base := ls.DB.Model(&SystemLog{})
	filters := []struct {
		col string
		val *string
	}{
		{"level", input.Level},
		{"service", input.Service},
		{"action", input.Action},
		{"principal", input.Principal},
	}
	for _, f := range filters {
		if f.val != nil && strings.TrimSpace(*f.val) != "" {
			base = base.Where(f.col+" = ?", strings.TrimSpace(*f.val))
		}
	}

	start, hasStart, endExclusive, hasEnd, err := util.ParseDateRange(input.StartDate, input.EndDate)
	if err != nil {
		return nil, LogAggregates{}, 0, err
	}
	if hasStart {
		base = base.Where("created_at >= ?", start)
	}
	if hasEnd {
		base = base.Where("created_at < ?", endExclusive)
	}

	if input.Search != nil && strings.TrimSpace(*input.Search) != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(*input.Search)) + "%"
		base = base.Where("LOWER(action) LIKE ? OR LOWER(message) LIKE ? OR LOWER(principal) LIKE ?", like, like, like)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, LogAggregates{}, 0, err
	}

	var rows []SystemLog
	if err := base.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Limit(input.Limit).
		Offset(input.Offset).
		Find(&rows).Error; err != nil {
		return nil, LogAggregates{}, 0, err
	}

	var aggs LogAggregates
	if aggs.ByAction, err = aggregate(base, "action"); err != nil {
		return nil, LogAggregates{}, 0, err
	}
	if aggs.ByPrincipal, err = aggregate(base, "principal"); err != nil {
		return nil, LogAggregates{}, 0, err
	}
	return rows, aggs, total, nil
}

func aggregate(base *gorm.DB, col string) ([]AggItem, error) {
	var out []AggItem
	err := base.Session(&gorm.Session{}).
		Select("COALESCE(NULLIF(TRIM(" + col + "), ''), 'unknown') AS label, COUNT(*) AS count").
		Group("label").
		Order("count DESC, label ASC").
		Limit(aggregateLimit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []AggItem{}
	}
	return out, nil
}
