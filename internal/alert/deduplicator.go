package alert

import (
	"fmt"
	"log/slog"
	"time"

	"dq-engine/internal/logging"
	"dq-engine/internal/metrics"
	"dq-engine/internal/rules"
	"dq-engine/internal/storage"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Candidate is one finding attached to the entity it was raised on.
// FieldID is nil for table-level findings.
type Candidate struct {
	TableID uint
	FieldID *uint
	Entity  string
	Finding rules.Finding
}

// Batch is the outcome of evaluating one table of a data source. Evaluated
// lists the entities whose rules all ran; active alerts on them that are not
// reproduced count a miss. Entities left out (a rule failed on them) keep
// their alerts untouched.
type Batch struct {
	DataSourceID uint
	TableID      uint
	Evaluated    []Entity
	Candidates   []Candidate
}

// Entity identifies a table (FieldID nil) or one of its fields.
type Entity struct {
	TableID uint
	FieldID *uint
}

type Result struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Resolved int `json:"resolved"`
}

func (r *Result) Add(o Result) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Resolved += o.Resolved
}

type Deduplicator struct {
	Clock clockwork.Clock
	// ResolveAfter is the number of consecutive runs an active alert must go
	// unreproduced before it is resolved.
	ResolveAfter int
	Log          *slog.Logger
}

func NewDeduplicator(clock clockwork.Clock, resolveAfter int, log *slog.Logger) *Deduplicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if resolveAfter <= 0 {
		resolveAfter = 1
	}
	return &Deduplicator{Clock: clock, ResolveAfter: resolveAfter, Log: logging.OrDefault(log)}
}

// Apply merges a batch into the alerts table using tx. The caller owns the
// transaction so stats and alerts of one table commit together.
func (d *Deduplicator) Apply(tx *gorm.DB, b Batch) (Result, error) {
	var res Result
	now := d.Clock.Now().UTC()

	q := tx.Where("data_source_id = ? AND table_id = ? AND status = ?", b.DataSourceID, b.TableID, StatusActive)
	if storage.IsPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var active []Alert
	if err := q.Find(&active).Error; err != nil {
		return res, storage.Classify("load active alerts", err)
	}
	byKey := make(map[entityKey]*Alert, len(active))
	for i := range active {
		byKey[active[i].key()] = &active[i]
	}

	reproduced := map[entityKey]bool{}
	for _, c := range b.Candidates {
		details, err := rules.EncodeDetails(c.Finding.Details)
		if err != nil {
			return res, fmt.Errorf("alert %s on %s: %w", c.Finding.AlertType, c.Entity, err)
		}
		tableID := c.TableID
		key := entityKey{DataSourceID: b.DataSourceID, TableID: tableID, FieldID: deref(c.FieldID), AlertType: c.Finding.AlertType}
		if reproduced[key] {
			continue
		}
		reproduced[key] = true

		if existing, ok := byKey[key]; ok {
			err := tx.Model(existing).Updates(map[string]any{
				"severity":     string(c.Finding.Severity),
				"details":      details,
				"name":         DisplayName(c.Finding.AlertType, c.Entity),
				"last_seen_at": now,
				"miss_count":   0,
			}).Error
			if err != nil {
				return res, storage.Classify("update alert", err)
			}
			res.Updated++
			metrics.AlertTransitions.WithLabelValues("updated").Inc()
			continue
		}

		a := Alert{
			DataSourceID: b.DataSourceID,
			TableID:      &tableID,
			FieldID:      c.FieldID,
			AlertType:    c.Finding.AlertType,
			Name:         DisplayName(c.Finding.AlertType, c.Entity),
			Severity:     string(c.Finding.Severity),
			Status:       StatusActive,
			Details:      details,
			TriggeredAt:  now,
			LastSeenAt:   now,
		}
		if err := tx.Create(&a).Error; err != nil {
			return res, storage.Classify("create alert", err)
		}
		res.Created++
		metrics.AlertTransitions.WithLabelValues("created").Inc()
		d.Log.Info("alert created", "data_source_id", b.DataSourceID, "alert_type", a.AlertType, "name", a.Name, "severity", a.Severity)
	}

	evaluated := make(map[entityRef]bool, len(b.Evaluated))
	for _, e := range b.Evaluated {
		evaluated[entityRef{TableID: e.TableID, FieldID: deref(e.FieldID)}] = true
	}
	for i := range active {
		a := &active[i]
		key := a.key()
		if reproduced[key] || !evaluated[entityRef{TableID: key.TableID, FieldID: key.FieldID}] {
			continue
		}
		resolved, err := d.miss(tx, a, now)
		if err != nil {
			return res, err
		}
		if resolved {
			res.Resolved++
		}
	}
	return res, nil
}

// ResolveOrphans resolves active alerts whose table or field has been
// soft-deleted from the catalog.
func (d *Deduplicator) ResolveOrphans(tx *gorm.DB, dataSourceID uint) (int, error) {
	now := d.Clock.Now().UTC()
	res := tx.Model(&Alert{}).
		Where("data_source_id = ? AND status = ?", dataSourceID, StatusActive).
		Where(`(table_id IN (SELECT id FROM table_metadata WHERE is_deleted = ?)
			OR field_id IN (SELECT id FROM field_metadata WHERE is_deleted = ?))`, true, true).
		Updates(map[string]any{"status": StatusResolved, "resolved_at": now})
	if res.Error != nil {
		return 0, storage.Classify("resolve orphaned alerts", res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.AlertTransitions.WithLabelValues("resolved").Add(float64(res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}

func (d *Deduplicator) miss(tx *gorm.DB, a *Alert, now time.Time) (bool, error) {
	misses := a.MissCount + 1
	if misses < d.ResolveAfter {
		if err := tx.Model(a).Update("miss_count", misses).Error; err != nil {
			return false, storage.Classify("record alert miss", err)
		}
		return false, nil
	}

	// status guard keeps a concurrent resolution from being counted twice
	res := tx.Model(&Alert{}).
		Where("id = ? AND status = ?", a.ID, StatusActive).
		Updates(map[string]any{"status": StatusResolved, "resolved_at": now, "miss_count": misses})
	if res.Error != nil {
		return false, storage.Classify("resolve alert", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	metrics.AlertTransitions.WithLabelValues("resolved").Inc()
	d.Log.Info("alert resolved", "data_source_id", a.DataSourceID, "alert_type", a.AlertType, "name", a.Name)
	return true, nil
}
