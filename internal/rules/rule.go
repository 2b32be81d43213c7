// Package rules evaluates anomaly rules against field statistics. Rules are
// pure: they see only the Input they are given.
package rules

import (
	"fmt"

	"dq-engine/internal/catalog"
)

type Scope string

const (
	ScopeField Scope = "field"
	ScopeTable Scope = "table"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

const (
	AlertNullRate               = "null_rate"
	AlertRowCountGap            = "row_count_gap"
	AlertZScoreOutlier          = "zscore_outlier"
	AlertConstraintViolationPfx = "constraint_violation."
)

// Input is everything a rule may look at for one entity. Field-scope rules
// get Field, Current, History and Constraints; table-scope rules get the
// table row counts.
type Input struct {
	DataSourceID uint
	Table        catalog.TableMetadata
	Field        *catalog.FieldMetadata

	Current     *catalog.FieldStats
	History     []catalog.FieldStats // newest first
	Constraints []catalog.FieldConstraint

	// ConstraintErrors holds constraints that could not be checked while
	// profiling, such as an unparsable range or regexp.
	ConstraintErrors []error

	TableRowCount   int64
	TableRowHistory []int64 // newest first
}

// Entity names the evaluated table or field for logs and errors.
func (in Input) Entity() string {
	if in.Field != nil {
		return in.Table.Name + "." + in.Field.Name
	}
	return in.Table.Name
}

type Finding struct {
	AlertType string
	Severity  Severity
	Details   Details
}

type Rule interface {
	Name() string
	Scope() Scope
	Evaluate(in Input) ([]Finding, error)
}

// RuleEvaluationError isolates one failing rule for one entity.
type RuleEvaluationError struct {
	Rule   string
	Entity string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s failed on %s: %v", e.Rule, e.Entity, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }
