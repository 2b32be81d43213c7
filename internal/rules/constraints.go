package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"dq-engine/internal/catalog"
	"dq-engine/internal/profiler"
)

// ConstraintSeverity maps a constraint type to the severity of its
// violations.
func ConstraintSeverity(t catalog.ConstraintType) Severity {
	switch t {
	case catalog.ConstraintUnique, catalog.ConstraintPrimaryKey, catalog.ConstraintReferential:
		return SeverityCritical
	}
	return SeverityWarning
}

// ConstraintRule emits one constraint_violation.<type> finding per
// violated constraint type. Counts come from the snapshot for key and
// nullability constraints and from extras.constraint_violations for the
// row-level ones.
type ConstraintRule struct{}

func (ConstraintRule) Name() string { return "constraint_violation" }
func (ConstraintRule) Scope() Scope { return ScopeField }

func (ConstraintRule) Evaluate(in Input) ([]Finding, error) {
	if len(in.ConstraintErrors) > 0 {
		return nil, errors.Join(in.ConstraintErrors...)
	}
	if in.Current == nil {
		return nil, nil
	}

	var order []catalog.ConstraintType
	byType := map[catalog.ConstraintType]*ConstraintViolationDetails{}
	for _, c := range in.Constraints {
		if c.IsDeleted {
			continue
		}
		n, ok := violationCount(c, in.Current)
		if !ok || n <= 0 {
			continue
		}
		d := byType[c.ConstraintType]
		if d == nil {
			d = &ConstraintViolationDetails{ConstraintType: string(c.ConstraintType)}
			byType[c.ConstraintType] = d
			order = append(order, c.ConstraintType)
		}
		d.TotalViolations += n
		d.Violations = append(d.Violations, ConstraintViolation{
			ConstraintID: c.GlobalID,
			Expression:   c.Expression,
			Count:        n,
		})
	}

	out := make([]Finding, 0, len(order))
	for _, t := range order {
		out = append(out, Finding{
			AlertType: AlertConstraintViolationPfx + string(t),
			Severity:  ConstraintSeverity(t),
			Details:   byType[t],
		})
	}
	return out, nil
}

func violationCount(c catalog.FieldConstraint, st *catalog.FieldStats) (int64, bool) {
	switch c.ConstraintType {
	case catalog.ConstraintNotNull:
		return st.NullCount, true
	case catalog.ConstraintUnique, catalog.ConstraintPrimaryKey:
		// duplicates cannot be derived from an estimated distinct count
		if approx, _ := st.Extras["distinct_approximate"].(bool); approx {
			return 0, false
		}
		dups := st.RowCount - st.NullCount - st.DistinctCount
		if dups < 0 {
			dups = 0
		}
		if c.ConstraintType == catalog.ConstraintPrimaryKey {
			dups += st.NullCount
		}
		return dups, true
	}

	counts, ok := st.Extras["constraint_violations"].(map[string]any)
	if !ok {
		return 0, false
	}
	return toInt64(counts[c.GlobalID])
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// ReferenceSets holds the known values of referenced columns, keyed by the
// referential expression "table.field".
type ReferenceSets map[string]map[string]struct{}

// ReferenceTargets lists the distinct referential expressions among cs.
func ReferenceTargets(cs []catalog.FieldConstraint) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cs {
		if c.ConstraintType != catalog.ConstraintReferential || c.IsDeleted || seen[c.Expression] {
			continue
		}
		seen[c.Expression] = true
		out = append(out, c.Expression)
	}
	return out
}

// Checks builds the row-level checks the profiler evaluates while streaming
// a field. Null values never violate a row-level check. A referential
// constraint without a loaded reference set is skipped. A constraint with a
// broken expression is left out and reported in errs so the remaining
// checks still run.
func Checks(constraints []catalog.FieldConstraint, refs ReferenceSets) (out []profiler.RowCheck, errs []error) {
	for _, c := range constraints {
		if c.IsDeleted {
			continue
		}
		var violates func(any) bool
		switch c.ConstraintType {
		case catalog.ConstraintRange:
			lo, hi, err := catalog.ParseRange(c.Expression)
			if err != nil {
				errs = append(errs, constraintError(c, err))
				continue
			}
			violates = func(v any) bool {
				x, ok := profiler.ToFloat(v)
				if !ok {
					return true
				}
				return (lo != nil && x < *lo) || (hi != nil && x > *hi)
			}
		case catalog.ConstraintFormat:
			re, err := regexp.Compile(c.Expression)
			if err != nil {
				errs = append(errs, constraintError(c, err))
				continue
			}
			violates = func(v any) bool { return !re.MatchString(profiler.ValueString(v)) }
		case catalog.ConstraintAllowedValues:
			values, err := catalog.ParseAllowedValues(c.Expression)
			if err != nil {
				errs = append(errs, constraintError(c, err))
				continue
			}
			allowed := make(map[string]struct{}, len(values))
			for _, a := range values {
				allowed[a] = struct{}{}
			}
			violates = func(v any) bool {
				_, ok := allowed[profiler.ValueString(v)]
				return !ok
			}
		case catalog.ConstraintReferential:
			if _, _, ok := catalog.SplitReference(c.Expression); !ok {
				errs = append(errs, constraintError(c, fmt.Errorf("referential %q: expected table.field", c.Expression)))
				continue
			}
			set, ok := refs[c.Expression]
			if !ok {
				continue
			}
			violates = func(v any) bool {
				_, ok := set[profiler.ValueString(v)]
				return !ok
			}
		default:
			continue
		}
		out = append(out, profiler.RowCheck{Key: c.GlobalID, Violates: skipNull(violates)})
	}
	return out, errs
}

func constraintError(c catalog.FieldConstraint, err error) error {
	return fmt.Errorf("%s constraint %s: %w", c.ConstraintType, c.GlobalID, err)
}

func skipNull(f func(any) bool) func(any) bool {
	return func(v any) bool { return v != nil && f(v) }
}
