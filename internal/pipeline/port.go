package pipeline

import "context"

type PipelineServiceAPI interface {
	TriggerRun(ctx context.Context, req RunRequest) (*RunResult, error)
	GetRun(ctx context.Context, id uint) (*RunResult, error)
}
