package pipeline

import (
	"context"
	"fmt"

	"dq-engine/internal/util"

	"github.com/jonboulle/clockwork"
)

type PipelineService struct {
	Trigger Trigger
	Tracker *Tracker
	Clock   clockwork.Clock
}

func NewPipelineService(trigger Trigger, tracker *Tracker, clock clockwork.Clock) *PipelineService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PipelineService{Trigger: trigger, Tracker: tracker, Clock: clock}
}

type RunRequest struct {
	DataSourceID uint   `json:"data_source_id" binding:"required,gt=0"`
	RunDate      string `json:"run_date"`
	Force        bool   `json:"force"`
}

func (ps *PipelineService) TriggerRun(ctx context.Context, req RunRequest) (*RunResult, error) {
	runDate, err := util.ParseRunDate(req.RunDate, ps.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("run_date: %w", err)
	}
	var opts []RunOption
	if req.Force {
		opts = append(opts, WithForceReconcile())
	}
	return ps.Trigger.RunPipeline(ctx, req.DataSourceID, runDate, opts...)
}

func (ps *PipelineService) GetRun(ctx context.Context, id uint) (*RunResult, error) {
	run, err := ps.Tracker.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewRunResult(run), nil
}
