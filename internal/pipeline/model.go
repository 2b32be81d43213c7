package pipeline

import (
	"time"

	"dq-engine/internal/catalog"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

const (
	StepReconcile = "reconcile"
	StepProfile   = "profile"
	StepEvaluate  = "evaluate"
	StepPersist   = "persist"
)

// Steps is the fixed execution order of a run.
var Steps = []string{StepReconcile, StepProfile, StepEvaluate, StepPersist}

// Pipeline is the logical check job of one data source.
type Pipeline struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	catalog.BaseModel
	Name         string `gorm:"size:255;uniqueIndex;not null" json:"name"`
	DataSourceID uint   `gorm:"not null;index" json:"data_source_id"`
}

func (Pipeline) TableName() string { return "pipelines" }

type PipelineRun struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	catalog.BaseModel
	PipelineID     uint           `gorm:"not null;index" json:"pipeline_id"`
	DataSourceID   uint           `gorm:"not null;index" json:"data_source_id"`
	RunDate        time.Time      `gorm:"not null" json:"run_date"`
	StartedAt      time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	AlertsCreated  int            `gorm:"not null;default:0" json:"alerts_created"`
	AlertsUpdated  int            `gorm:"not null;default:0" json:"alerts_updated"`
	AlertsResolved int            `gorm:"not null;default:0" json:"alerts_resolved"`
	Steps          []PipelineStep `gorm:"foreignKey:RunID" json:"steps,omitempty"`
}

func (PipelineRun) TableName() string { return "pipeline_runs" }

type PipelineStep struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	catalog.BaseModel
	RunID      uint       `gorm:"not null;index" json:"run_id"`
	Name       string     `gorm:"size:50;not null" json:"name"`
	Position   int        `gorm:"not null" json:"position"`
	Status     StepStatus `gorm:"size:20;not null" json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `gorm:"type:text" json:"error,omitempty"`
	ErrorKind  string     `gorm:"size:50" json:"error_kind,omitempty"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
}

func (PipelineStep) TableName() string { return "pipeline_steps" }

// DeriveStatus computes a run's status from its steps: failed if any step
// failed, succeeded if all succeeded, otherwise running.
func DeriveStatus(steps []PipelineStep) RunStatus {
	if len(steps) == 0 {
		return RunRunning
	}
	done := 0
	for _, s := range steps {
		switch s.Status {
		case StepFailed:
			return RunFailed
		case StepSucceeded:
			done++
		}
	}
	if done == len(steps) {
		return RunSucceeded
	}
	return RunRunning
}

func Models() []any {
	return []any{&Pipeline{}, &PipelineRun{}, &PipelineStep{}}
}
