package pipeline

import (
	"context"
	"errors"

	"dq-engine/internal/reconcile"
	"dq-engine/internal/rules"
	"dq-engine/internal/source"
	"dq-engine/internal/storage"
)

var (
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrRunInProgress      = errors.New("a run for this data source is already in progress")
	errCancelled          = errors.New("cancelled")
)

// ErrorKind renders a stable classification of a step error for API
// consumers.
func ErrorKind(err error) string {
	var (
		empty    *reconcile.DiscoveryEmptyError
		unavail  *source.SourceUnavailableError
		bad      *source.SourceMalformedError
		conflict *storage.PersistenceConflictError
		rule     *rules.RuleEvaluationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &empty):
		return "discovery_empty"
	case errors.As(err, &unavail):
		return "source_unavailable"
	case errors.As(err, &bad):
		return "source_malformed"
	case errors.As(err, &conflict):
		return "persistence_conflict"
	case errors.As(err, &rule):
		return "rule_evaluation"
	case errors.Is(err, errCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal"
}
