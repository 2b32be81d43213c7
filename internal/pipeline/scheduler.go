package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dq-engine/internal/logging"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// SourceLister yields the data sources a scheduled tick should run.
type SourceLister interface {
	ActiveDataSourceIDs() ([]uint, error)
}

// Scheduler triggers runs on a cron schedule and on demand. It never runs
// two pipelines for the same data source at once within this process.
type Scheduler struct {
	cron    *cron.Cron
	trigger Trigger
	sources SourceLister
	limit   int
	clock   clockwork.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	running map[uint]bool
}

func NewScheduler(trigger Trigger, sources SourceLister, maxConcurrent int, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cron:    cron.New(),
		trigger: trigger,
		sources: sources,
		limit:   maxConcurrent,
		clock:   clock,
		logger:  logging.OrDefault(logger),
		running: map[uint]bool{},
	}
}

// Start registers the schedule and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunAll(context.Background()); err != nil {
			s.logger.Warn("scheduled run failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid pipeline schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("pipeline scheduler started", "schedule", schedule, "max_concurrent_runs", s.limit)
	return nil
}

// Stop stops the cron loop and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("pipeline scheduler stopped")
	return ctx
}

type TickSummary struct {
	Started   int `json:"started"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunAll runs every active data source for today, at most limit at a time.
func (s *Scheduler) RunAll(ctx context.Context) (TickSummary, error) {
	var summary TickSummary
	ids, err := s.sources.ActiveDataSourceIDs()
	if err != nil {
		return summary, fmt.Errorf("list data sources: %w", err)
	}

	runDate := s.clock.Now()
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.limit)

	for _, id := range ids {
		if !s.acquire(id) {
			s.logger.Info("run skipped, previous run still in progress", "data_source_id", id)
			summary.Skipped++
			continue
		}
		summary.Started++
		g.Go(func() error {
			defer s.release(id)
			res, err := s.trigger.RunPipeline(ctx, id, runDate)

			mu.Lock()
			defer mu.Unlock()
			if err != nil || res.Status != RunSucceeded {
				summary.Failed++
				if err != nil {
					s.logger.Error("scheduled run could not start", "data_source_id", id, "err", err)
				}
				return nil
			}
			summary.Succeeded++
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

// RunPipeline triggers one data source unless a run for it is already in
// progress.
func (s *Scheduler) RunPipeline(ctx context.Context, dataSourceID uint, runDate time.Time, opts ...RunOption) (*RunResult, error) {
	if !s.acquire(dataSourceID) {
		return nil, ErrRunInProgress
	}
	defer s.release(dataSourceID)
	return s.trigger.RunPipeline(ctx, dataSourceID, runDate, opts...)
}

func (s *Scheduler) acquire(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) release(id uint) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

var _ Trigger = (*Scheduler)(nil)
