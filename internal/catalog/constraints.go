package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidConstraint = errors.New("invalid constraint")

// ParseConstraintType accepts the constraint types that can be authored by
// hand. Key and nullability constraints come from discovery only.
func ParseConstraintType(raw string) (ConstraintType, bool) {
	switch t := ConstraintType(strings.ToLower(strings.TrimSpace(raw))); t {
	case ConstraintRange, ConstraintFormat, ConstraintAllowedValues, ConstraintReferential, ConstraintNotNull:
		return t, true
	}
	return "", false
}

// ValidateConstraint checks that expr is well formed for t.
func ValidateConstraint(t ConstraintType, expr string) error {
	var err error
	switch t {
	case ConstraintNotNull, ConstraintUnique, ConstraintPrimaryKey:
		if strings.TrimSpace(expr) != "" {
			err = fmt.Errorf("%s takes no expression", t)
		}
	case ConstraintRange:
		_, _, err = ParseRange(expr)
	case ConstraintFormat:
		_, err = regexp.Compile(expr)
	case ConstraintAllowedValues:
		_, err = ParseAllowedValues(expr)
	case ConstraintReferential:
		if _, _, ok := SplitReference(expr); !ok {
			err = fmt.Errorf("referential %q: expected table.field", expr)
		}
	default:
		err = fmt.Errorf("unknown constraint type %q", t)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConstraint, err)
	}
	return nil
}

// ParseRange parses "lo:hi" where either bound may be empty.
func ParseRange(expr string) (lo, hi *float64, err error) {
	left, right, found := strings.Cut(expr, ":")
	if !found {
		return nil, nil, fmt.Errorf("range %q: expected lo:hi", expr)
	}
	parse := func(s string) (*float64, error) {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", expr, err)
		}
		return &f, nil
	}
	if lo, err = parse(left); err != nil {
		return nil, nil, err
	}
	if hi, err = parse(right); err != nil {
		return nil, nil, err
	}
	if lo != nil && hi != nil && *lo > *hi {
		return nil, nil, fmt.Errorf("range %q: lower bound above upper bound", expr)
	}
	return lo, hi, nil
}

// ParseAllowedValues splits "a|b|c" into its trimmed members.
func ParseAllowedValues(expr string) ([]string, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errors.New("allowed_values: empty list")
	}
	parts := strings.Split(expr, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts, nil
}

// SplitReference splits "table.field" at the last dot; workbook tables
// carry a dot in their own name.
func SplitReference(target string) (string, string, bool) {
	i := strings.LastIndexByte(target, '.')
	if i <= 0 || i == len(target)-1 {
		return "", "", false
	}
	return target[:i], target[i+1:], true
}
