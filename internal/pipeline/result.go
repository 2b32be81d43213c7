package pipeline

import (
	"time"

	"dq-engine/internal/reconcile"
)

type StepResult struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunResult is what the trigger interface returns for every run, failed or
// not.
type RunResult struct {
	RunID          uint         `json:"run_id"`
	RunGlobalID    string       `json:"run_global_id"`
	PipelineID     uint         `json:"pipeline_id"`
	DataSourceID   uint         `json:"data_source_id"`
	RunDate        time.Time    `json:"run_date"`
	Status         RunStatus    `json:"status"`
	Steps          []StepResult `json:"steps"`
	AlertsCreated  int          `json:"alerts_created"`
	AlertsUpdated  int          `json:"alerts_updated"`
	AlertsResolved int          `json:"alerts_resolved"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`

	// set only on the live result of RunPipeline
	Reconcile      *reconcile.Result `json:"reconcile,omitempty"`
	FieldsProfiled int               `json:"fields_profiled,omitempty"`
	RuleErrors     int               `json:"rule_errors,omitempty"`
}

// Errors lists the step errors in step order.
func (r *RunResult) Errors() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Error != "" {
			out = append(out, s.Name+": "+s.Error)
		}
	}
	return out
}

func NewRunResult(run *PipelineRun) *RunResult {
	res := &RunResult{
		RunID:          run.ID,
		RunGlobalID:    run.GlobalID,
		PipelineID:     run.PipelineID,
		DataSourceID:   run.DataSourceID,
		RunDate:        run.RunDate,
		Status:         DeriveStatus(run.Steps),
		AlertsCreated:  run.AlertsCreated,
		AlertsUpdated:  run.AlertsUpdated,
		AlertsResolved: run.AlertsResolved,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		Steps:          make([]StepResult, 0, len(run.Steps)),
	}
	for _, s := range run.Steps {
		sr := StepResult{
			Name:       s.Name,
			Status:     s.Status,
			ErrorKind:  s.ErrorKind,
			Attempts:   s.Attempts,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		}
		if s.Error != nil {
			sr.Error = *s.Error
		}
		res.Steps = append(res.Steps, sr)
	}
	return res
}
