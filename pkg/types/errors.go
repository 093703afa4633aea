package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup key has no record.
	ErrNotFound = errors.New("govdelegate: not found")

	// ErrSourceUnavailable wraps failures of the aggregator or chain collaborators.
	ErrSourceUnavailable = errors.New("govdelegate: source unavailable")
)

// ValidationError reports a record rejected because a required field is
// missing or malformed. Nothing is stored when it is returned.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	if e.ID == "" {
		return fmt.Sprintf("validation failed: %s %s", e.Field, reason)
	}
	return fmt.Sprintf("validation failed for %s: %s %s", e.ID, e.Field, reason)
}

// ErrorKind classifies an error for per-proposal error records.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindValidation        ErrorKind = "validation"
	KindInternal          ErrorKind = "internal"
)

// KindOf maps err to its ErrorKind.
func KindOf(err error) ErrorKind {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	default:
		return KindInternal
	}
}

// NotFound wraps ErrNotFound with the kind of record and its key.
func NotFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
}

// SourceUnavailable wraps err as an ErrSourceUnavailable failure of the named collaborator.
func SourceUnavailable(source string, err error) error {
	return fmt.Errorf("%s: %w: %w", source, ErrSourceUnavailable, err)
}
