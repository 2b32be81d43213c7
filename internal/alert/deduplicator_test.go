package alert

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"dq-engine/internal/catalog"
	"dq-engine/internal/logging"
	"dq-engine/internal/rules"
	"dq-engine/internal/storage"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq uint64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	id := atomic.AddUint64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:alert_test_%d?mode=memory&cache=shared", id)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, storage.Migrate(db, append(catalog.Models(), &Alert{})...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

var t0 = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

func uptr(v uint) *uint { return &v }

func nullRate(rate float64) rules.Finding {
	return rules.Finding{
		AlertType: rules.AlertNullRate,
		Severity:  rules.SeverityWarning,
		Details:   &rules.NullRateDetails{NullCount: int64(rate * 100), RowCount: 100, NullRate: rate, Threshold: 0.3},
	}
}

func fieldBatch(findings ...rules.Finding) Batch {
	b := Batch{
		DataSourceID: 1,
		TableID:      10,
		Evaluated:    []Entity{{TableID: 10}, {TableID: 10, FieldID: uptr(100)}},
	}
	for _, f := range findings {
		b.Candidates = append(b.Candidates, Candidate{TableID: 10, FieldID: uptr(100), Entity: "orders.status", Finding: f})
	}
	return b
}

func apply(t *testing.T, db *gorm.DB, d *Deduplicator, b Batch) Result {
	t.Helper()
	var res Result
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = d.Apply(tx, b)
		return err
	})
	require.NoError(t, err)
	return res
}

func activeAlerts(t *testing.T, db *gorm.DB) []Alert {
	t.Helper()
	var out []Alert
	require.NoError(t, db.Where("status = ?", StatusActive).Find(&out).Error)
	return out
}

func TestDeduplicator_ReproducedFindingUpdatesInPlace(t *testing.T) {
	db := newTestDB(t)
	clk := clockwork.NewFakeClockAt(t0)
	d := NewDeduplicator(clk, 1, logging.Discard())

	res := apply(t, db, d, fieldBatch(nullRate(0.4)))
	require.Equal(t, Result{Created: 1}, res)

	first := activeAlerts(t, db)
	require.Len(t, first, 1)
	require.Equal(t, "null_rate on orders.status", first[0].Name)

	clk.Advance(24 * time.Hour)
	res = apply(t, db, d, fieldBatch(nullRate(0.5)))
	require.Equal(t, Result{Updated: 1}, res)

	second := activeAlerts(t, db)
	require.Len(t, second, 1, "at most one active alert per entity and type")
	require.Equal(t, first[0].GlobalID, second[0].GlobalID)
	require.WithinDuration(t, t0, second[0].TriggeredAt, time.Second)
	require.WithinDuration(t, t0.Add(24*time.Hour), second[0].LastSeenAt, time.Second)
	require.Equal(t, 0.5, second[0].Details["null_rate"])
}

func TestDeduplicator_ResolvesExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 1, logging.Discard())

	apply(t, db, d, fieldBatch(nullRate(0.4)))

	res := apply(t, db, d, fieldBatch())
	require.Equal(t, Result{Resolved: 1}, res)
	require.Empty(t, activeAlerts(t, db))

	res = apply(t, db, d, fieldBatch())
	require.Equal(t, Result{}, res)

	var resolved Alert
	require.NoError(t, db.Where("status = ?", StatusResolved).First(&resolved).Error)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestDeduplicator_RecurrenceAfterResolutionCreatesNewAlert(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 1, logging.Discard())

	apply(t, db, d, fieldBatch(nullRate(0.4)))
	apply(t, db, d, fieldBatch())
	res := apply(t, db, d, fieldBatch(nullRate(0.4)))
	require.Equal(t, Result{Created: 1}, res)

	var all []Alert
	require.NoError(t, db.Order("id").Find(&all).Error)
	require.Len(t, all, 2)
	require.NotEqual(t, all[0].GlobalID, all[1].GlobalID)
	require.Equal(t, StatusResolved, all[0].Status)
	require.Equal(t, StatusActive, all[1].Status)
}

func TestDeduplicator_ResolveAfterCountsConsecutiveMisses(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 2, logging.Discard())

	apply(t, db, d, fieldBatch(nullRate(0.4)))
	require.Equal(t, Result{}, apply(t, db, d, fieldBatch()))
	require.Equal(t, 1, activeAlerts(t, db)[0].MissCount)

	require.Equal(t, Result{Updated: 1}, apply(t, db, d, fieldBatch(nullRate(0.4))))
	require.Equal(t, 0, activeAlerts(t, db)[0].MissCount)

	apply(t, db, d, fieldBatch())
	require.Equal(t, Result{Resolved: 1}, apply(t, db, d, fieldBatch()))
}

func TestDeduplicator_UnevaluatedEntitiesKeepAlerts(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 1, logging.Discard())

	apply(t, db, d, fieldBatch(nullRate(0.4)))

	b := fieldBatch()
	b.Evaluated = []Entity{{TableID: 10}}
	require.Equal(t, Result{}, apply(t, db, d, b))
	require.Len(t, activeAlerts(t, db), 1)
}

func TestDeduplicator_TableAndFieldAlertsAreDistinct(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 1, logging.Discard())

	gap := rules.Finding{
		AlertType: rules.AlertRowCountGap,
		Severity:  rules.SeverityCritical,
		Details:   &rules.RowCountGapDetails{RowCount: 0, Baseline: 100, RelativeGap: 1, MaxRelativeGap: 0.2, Window: 7, HistoryDays: 3},
	}
	b := fieldBatch(nullRate(0.4))
	b.Candidates = append(b.Candidates, Candidate{TableID: 10, Entity: "orders", Finding: gap})

	require.Equal(t, Result{Created: 2}, apply(t, db, d, b))

	b = fieldBatch(nullRate(0.4))
	require.Equal(t, Result{Updated: 1, Resolved: 1}, apply(t, db, d, b))
}

func TestDeduplicator_InvalidDetailsRejected(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 1, logging.Discard())

	bad := rules.Finding{AlertType: rules.AlertZScoreOutlier, Severity: rules.SeverityWarning, Details: &rules.ZScoreDetails{Bound: "middle"}}
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := d.Apply(tx, fieldBatch(bad))
		return err
	})
	require.Error(t, err)
	require.Empty(t, activeAlerts(t, db))
}

func TestActiveAlertIndexRejectsSecondActive(t *testing.T) {
	db := newTestDB(t)

	mk := func() Alert {
		return Alert{
			DataSourceID: 1, TableID: uptr(10), FieldID: uptr(100),
			AlertType: rules.AlertNullRate, Name: "x", Severity: "warning", Status: StatusActive,
			TriggeredAt: t0, LastSeenAt: t0,
		}
	}
	a, b := mk(), mk()
	require.NoError(t, db.Create(&a).Error)

	err := db.Create(&b).Error
	require.Error(t, err)
	require.True(t, storage.IsConflict(storage.Classify("create alert", err)))

	b.Status = StatusResolved
	require.NoError(t, db.Create(&b).Error, "resolved alerts are not constrained")
}

func TestDeduplicator_ResolveOrphans(t *testing.T) {
	db := newTestDB(t)
	d := NewDeduplicator(clockwork.NewFakeClockAt(t0), 1, logging.Discard())

	table := catalog.TableMetadata{DataSourceID: 1, Name: "orders"}
	require.NoError(t, db.Create(&table).Error)
	field := catalog.FieldMetadata{TableID: table.ID, Name: "status", DataType: "string"}
	require.NoError(t, db.Create(&field).Error)

	b := Batch{
		DataSourceID: 1,
		TableID:      table.ID,
		Candidates:   []Candidate{{TableID: table.ID, FieldID: &field.ID, Entity: "orders.status", Finding: nullRate(0.4)}},
	}
	apply(t, db, d, b)

	n, err := d.ResolveOrphans(db, 1)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, db.Model(&field).Update("is_deleted", true).Error)
	n, err = d.ResolveOrphans(db, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, activeAlerts(t, db))
}
