// Package apperr defines the error taxonomy shared by every service.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrPartial       = errors.New("partial failure")
)

// ValidationError reports malformed or contradictory input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Invalidf builds a ValidationError with a formatted reason.
func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing block, document, session or operation.
type NotFoundError struct {
	Kind string
	IDs  []string
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, strings.Join(e.IDs, ", "))
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind string, ids ...string) error {
	return &NotFoundError{Kind: kind, IDs: ids}
}

// PartialFailureError is returned when a multi-step operation failed after at
// least one write committed. CommittedIDs lists what the caller must reconcile.
type PartialFailureError struct {
	Op           string
	CommittedIDs []string
	Err          error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: partial failure after committing %d record(s): %v", e.Op, len(e.CommittedIDs), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// Is matches ErrPartial.
func (e *PartialFailureError) Is(target error) bool { return target == ErrPartial }

// Partial builds a PartialFailureError. A nil or empty committed list is a
// programming error on the caller side; such failures have no side effects
// and must be returned as-is.
func Partial(op string, committed []string, err error) error {
	ids := make([]string, len(committed))
	copy(ids, committed)
	return &PartialFailureError{Op: op, CommittedIDs: ids, Err: err}
}

// AsPartial unwraps a PartialFailureError.
func AsPartial(err error) (*PartialFailureError, bool) {
	var pf *PartialFailureError
	ok := errors.As(err, &pf)
	return pf, ok
}

// ConsistencyWarning is a non-fatal inconsistency. It is logged, never returned.
type ConsistencyWarning struct {
	Subject string
	Detail  string
	Attrs   []slog.Attr
}

func (w ConsistencyWarning) String() string {
	return w.Subject + ": " + w.Detail
}

// Warn logs w at WARN level.
func Warn(logger *slog.Logger, w ConsistencyWarning) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := append([]slog.Attr{
		slog.String("subject", w.Subject),
		slog.String("detail", w.Detail),
	}, w.Attrs...)
	logger.LogAttrs(context.Background(), slog.LevelWarn, "consistency warning", attrs...)
}
