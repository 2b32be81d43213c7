package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"dq-engine/internal/catalog"
	"dq-engine/internal/logging"
	"dq-engine/internal/metrics"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

const maxErrorSummary = 2000

// Tracker records the lifecycle of runs and their steps.
type Tracker struct {
	DB    *gorm.DB
	Clock clockwork.Clock
	Log   *slog.Logger
}

func NewTracker(db *gorm.DB, clock clockwork.Clock, log *slog.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{DB: db, Clock: clock, Log: logging.OrDefault(log)}
}

// EnsurePipeline returns the pipeline of a data source, creating it on first use.
func (t *Tracker) EnsurePipeline(ctx context.Context, ds catalog.DataSource) (*Pipeline, error) {
	p := Pipeline{Name: pipelineName(ds), DataSourceID: ds.ID}
	err := t.DB.WithContext(ctx).
		Where(Pipeline{Name: p.Name}).
		Attrs(Pipeline{DataSourceID: ds.ID}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, fmt.Errorf("ensure pipeline: %w", err)
	}
	return &p, nil
}

func pipelineName(ds catalog.DataSource) string {
	return fmt.Sprintf("dq:%d:%s", ds.ID, ds.Name)
}

// StartRun creates a run with every step pending.
func (t *Tracker) StartRun(ctx context.Context, p *Pipeline, runDate time.Time) (*PipelineRun, error) {
	run := PipelineRun{
		PipelineID:   p.ID,
		DataSourceID: p.DataSourceID,
		RunDate:      catalog.StatDay(runDate),
		StartedAt:    t.Clock.Now().UTC(),
	}
	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		run.Steps = make([]PipelineStep, len(Steps))
		for i, name := range Steps {
			run.Steps[i] = PipelineStep{RunID: run.ID, Name: name, Position: i, Status: StepPending}
		}
		return tx.Create(&run.Steps).Error
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return &run, nil
}

// Run executes fn as one step. The terminal status is written even when fn
// panics or ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, step *PipelineStep, fn func(ctx context.Context) error) (err error) {
	if err := t.begin(ctx, step); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in step %s: %v", step.Name, p)
		}
		if ferr := t.finish(context.WithoutCancel(ctx), step, err); ferr != nil {
			t.Log.Error("record step result failed", "step", step.Name, "run_id", step.RunID, "err", ferr)
			if err == nil {
				err = ferr
			}
		}
	}()
	return fn(ctx)
}

// Fail marks a step that never started as failed, e.g. after cancellation
// between steps.
func (t *Tracker) Fail(ctx context.Context, step *PipelineStep, cause error) error {
	return t.finish(context.WithoutCancel(ctx), step, cause)
}

func (t *Tracker) begin(ctx context.Context, step *PipelineStep) error {
	now := t.Clock.Now().UTC()
	step.Status = StepRunning
	step.StartedAt = &now
	step.Attempts = 1
	err := t.DB.WithContext(ctx).Model(step).Updates(map[string]any{
		"status":     step.Status,
		"started_at": now,
		"attempts":   step.Attempts,
	}).Error
	if err != nil {
		return fmt.Errorf("begin step %s: %w", step.Name, err)
	}
	return nil
}

func (t *Tracker) finish(ctx context.Context, step *PipelineStep, cause error) error {
	now := t.Clock.Now().UTC()
	step.FinishedAt = &now
	updates := map[string]any{"finished_at": now, "attempts": step.Attempts}
	if cause == nil {
		step.Status = StepSucceeded
	} else {
		step.Status = StepFailed
		summary := summarize(cause)
		step.Error = &summary
		step.ErrorKind = ErrorKind(cause)
		updates["error"] = summary
		updates["error_kind"] = step.ErrorKind
	}
	updates["status"] = step.Status
	metrics.StepOutcomes.WithLabelValues(step.Name, string(step.Status)).Inc()

	if err := t.DB.WithContext(ctx).Model(step).Updates(updates).Error; err != nil {
		return fmt.Errorf("finish step %s: %w", step.Name, err)
	}
	return nil
}

// FinishRun stamps the run with its end time and alert counters.
func (t *Tracker) FinishRun(ctx context.Context, run *PipelineRun) error {
	now := t.Clock.Now().UTC()
	run.FinishedAt = &now
	return t.DB.WithContext(context.WithoutCancel(ctx)).Model(run).Updates(map[string]any{
		"finished_at":     now,
		"alerts_created":  run.AlertsCreated,
		"alerts_updated":  run.AlertsUpdated,
		"alerts_resolved": run.AlertsResolved,
	}).Error
}

func (t *Tracker) GetRun(ctx context.Context, id uint) (*PipelineRun, error) {
	var run PipelineRun
	err := t.DB.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&run, id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// summarize caps the message at maxErrorSummary bytes without splitting a
// UTF-8 sequence.
func summarize(err error) string {
	s := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if len(s) <= maxErrorSummary {
		return s
	}
	cut := maxErrorSummary
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
