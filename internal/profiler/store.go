package profiler

import (
	"context"
	"fmt"
	"time"

	"dq-engine/internal/catalog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsStore persists snapshots and answers the history queries rules need.
type StatsStore struct {
	DB *gorm.DB
}

func NewStatsStore(db *gorm.DB) *StatsStore {
	return &StatsStore{DB: db}
}

// Upsert writes st inside tx. A second snapshot for the same (field,
// stat_date) replaces the measurements and keeps the original global_id.
func (s *StatsStore) Upsert(tx *gorm.DB, st *catalog.FieldStats) error {
	st.StatDate = catalog.StatDay(st.StatDate)
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "field_id"}, {Name: "stat_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"row_count", "null_count", "distinct_count",
			"min", "max", "mean", "std_dev", "extras",
			"is_deleted", "updated_at",
		}),
	}).Create(st).Error
	if err != nil {
		return fmt.Errorf("upsert stats for field %d: %w", st.FieldID, err)
	}
	return nil
}

// LastN returns up to n snapshots of fieldID strictly before the given day,
// newest first.
func (s *StatsStore) LastN(ctx context.Context, fieldID uint, before time.Time, n int) ([]catalog.FieldStats, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []catalog.FieldStats
	err := s.DB.WithContext(ctx).
		Where("field_id = ? AND stat_date < ? AND is_deleted = ?", fieldID, catalog.StatDay(before), false).
		Order("stat_date DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load history for field %d: %w", fieldID, err)
	}
	return rows, nil
}

// TableRowCountHistory returns the table row count for up to n prior stat
// days, taken as the largest row_count among the table's fields, newest first.
func (s *StatsStore) TableRowCountHistory(ctx context.Context, tableID uint, before time.Time, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []struct {
		RowCount int64
	}
	err := s.DB.WithContext(ctx).
		Table("field_stats").
		Select("field_stats.stat_date AS stat_date, MAX(field_stats.row_count) AS row_count").
		Joins("JOIN field_metadata ON field_metadata.id = field_stats.field_id").
		Where("field_metadata.table_id = ? AND field_stats.stat_date < ? AND field_stats.is_deleted = ?", tableID, catalog.StatDay(before), false).
		Group("field_stats.stat_date").
		Order("field_stats.stat_date DESC").
		Limit(n).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load row count history for table %d: %w", tableID, err)
	}
	counts := make([]int64, len(rows))
	for i, r := range rows {
		counts[i] = r.RowCount
	}
	return counts, nil
}
