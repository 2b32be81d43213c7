package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PersistenceConflictError reports a concurrent modification detected by the
// database. Callers may retry once with fresh reads.
type PersistenceConflictError struct {
	Op  string
	Err error
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("persistence conflict during %s: %v", e.Op, e.Err)
}

func (e *PersistenceConflictError) Unwrap() error { return e.Err }

// postgres SQLSTATE codes treated as conflicts
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// Classify wraps conflict-type driver errors in PersistenceConflictError and
// returns every other error unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict *PersistenceConflictError
	if errors.As(err, &conflict) {
		return err
	}
	if IsConflict(err) {
		return &PersistenceConflictError{Op: op, Err: err}
	}
	return err
}

func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var conflict *PersistenceConflictError
	if errors.As(err, &conflict) {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation, sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked")
}
