package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound means an identifier or record does not exist. Callers decide.
	ErrNotFound = errors.New("not found")

	// ErrValidation means a value was rejected before any write happened.
	ErrValidation = errors.New("validation error")

	// ErrStorageUnavailable wraps transient store failures; the write was not applied.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Unavailable wraps err as ErrStorageUnavailable unless it is already classified.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Invalid builds an ErrValidation error.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsForeignKeyViolation checks if the error is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsTimeout reports whether err came from a deadline or cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsCheckViolation checks if the error is a check constraint violation.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

// classify maps driver errors onto the store sentinels.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case IsUniqueViolation(err), IsCheckViolation(err):
		return fmt.Errorf("%s: %w: %v", op, ErrValidation, err)
	}
	return Unavailable(op, err)
}
