package rules

import (
	"errors"
	"fmt"
	"log/slog"

	"dq-engine/config"
	"dq-engine/internal/logging"
	"dq-engine/internal/metrics"
)

// Engine runs an ordered rule list. Order decides which finding survives
// when two rules emit the same alert type for one entity.
type Engine struct {
	rules []Rule
	log   *slog.Logger
}

func NewEngine(log *slog.Logger, rules ...Rule) *Engine {
	return &Engine{rules: rules, log: logging.OrDefault(log)}
}

func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate runs every rule of the given scope against in. A failing rule
// contributes no findings for this entity and is reported in errs; the
// remaining rules still run.
func (e *Engine) Evaluate(scope Scope, in Input) (findings []Finding, errs []error) {
	seen := map[string]bool{}
	for _, r := range e.rules {
		if r.Scope() != scope {
			continue
		}
		got, err := e.run(r, in)
		if err != nil {
			re := &RuleEvaluationError{Rule: r.Name(), Entity: in.Entity(), Err: err}
			e.log.Warn("rule evaluation failed",
				"rule", r.Name(),
				"data_source_id", in.DataSourceID,
				"table", in.Table.Name,
				"field", fieldName(in),
				"err", err,
			)
			metrics.RuleErrors.WithLabelValues(r.Name()).Inc()
			errs = append(errs, re)
			continue
		}
		for _, f := range got {
			if seen[f.AlertType] {
				e.log.Debug("duplicate finding dropped", "rule", r.Name(), "alert_type", f.AlertType, "table", in.Table.Name, "field", fieldName(in))
				continue
			}
			seen[f.AlertType] = true
			findings = append(findings, f)
		}
	}
	return findings, errs
}

func (e *Engine) run(r Rule, in Input) (out []Finding, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()

	out, err = r.Evaluate(in)
	if err != nil {
		return nil, err
	}
	for _, f := range out {
		if err := checkFinding(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkFinding(f Finding) error {
	if f.AlertType == "" {
		return errors.New("finding without alert type")
	}
	if !f.Severity.Valid() {
		return fmt.Errorf("finding %s: invalid severity %q", f.AlertType, f.Severity)
	}
	if err := ValidateDetails(f.Details); err != nil {
		return fmt.Errorf("finding %s: %w", f.AlertType, err)
	}
	return nil
}

func fieldName(in Input) string {
	if in.Field == nil {
		return ""
	}
	return in.Field.Name
}

// DefaultRules returns the enabled built-in rules in registration order.
func DefaultRules(cfg config.RuleConfig) []Rule {
	var out []Rule
	if cfg.NullRate.Enabled {
		out = append(out, NullRateRule{Threshold: cfg.NullRate.Threshold})
	}
	if cfg.RowCountGap.Enabled {
		out = append(out, RowCountGapRule{MaxRelativeGap: cfg.RowCountGap.MaxRelativeGap, Window: cfg.RowCountGap.Window})
	}
	if cfg.ZScore.Enabled {
		out = append(out, ZScoreRule{K: cfg.ZScore.K})
	}
	if cfg.Constraint.Enabled {
		out = append(out, ConstraintRule{})
	}
	return out
}
