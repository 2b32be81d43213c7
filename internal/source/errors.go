package source

import (
	"errors"
	"fmt"
)

// SourceUnavailableError is a transient I/O failure. The caller may retry.
type SourceUnavailableError struct {
	Source string
	Table  string
	Field  string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable%s: %v", e.Source, location(e.Table, e.Field), e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SourceMalformedError is a permanent data-shape problem.
type SourceMalformedError struct {
	Source string
	Table  string
	Field  string
	Reason string
	Err    error
}

func (e *SourceMalformedError) Error() string {
	msg := fmt.Sprintf("source %s malformed%s: %s", e.Source, location(e.Table, e.Field), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceMalformedError) Unwrap() error { return e.Err }

func unavailable(ds, table, field string, err error) error {
	return &SourceUnavailableError{Source: ds, Table: table, Field: field, Err: err}
}

func malformed(ds, table, field, reason string, err error) error {
	return &SourceMalformedError{Source: ds, Table: table, Field: field, Reason: reason, Err: err}
}

func IsUnavailable(err error) bool {
	var e *SourceUnavailableError
	return errors.As(err, &e)
}

func IsMalformed(err error) bool {
	var e *SourceMalformedError
	return errors.As(err, &e)
}

func location(table, field string) string {
	switch {
	case table != "" && field != "":
		return fmt.Sprintf(" at %s.%s", table, field)
	case table != "":
		return " at " + table
	}
	return ""
}
