// Package errdefs defines the stable error kinds surfaced by the
// coordination engine. They are shared sentinels so that callers can
// branch with errors.Is/errors.As regardless of which component
// produced the failure.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error handling.
var (
	// ErrSpoolOccupied means another worker currently holds the spool.
	ErrSpoolOccupied = errors.New("spool occupied")
	// ErrForbidden means the caller is not the current holder.
	ErrForbidden = errors.New("caller is not the holder")
	// ErrGone means the lock expired between verification and write.
	ErrGone = errors.New("lock expired")
	// ErrDependenciesNotSatisfied means an upstream operation has not run.
	ErrDependenciesNotSatisfied = errors.New("dependencies not satisfied")
	// ErrAlreadyCompleted means a completion precondition was violated.
	ErrAlreadyCompleted = errors.New("already completed")
	// ErrSpoolBloqueado means the rework-cycle governor rejects the action.
	ErrSpoolBloqueado = errors.New("spool bloqueado")
	// ErrVersionConflict means the optimistic version token was stale.
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotFound means the spool, union or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidationFailed means the request payload is malformed or out of range.
	ErrValidationFailed = errors.New("validation failed")
	// ErrTransientBackend means the external store failed after retries.
	ErrTransientBackend = errors.New("transient backend error")
)

// OccupiedError wraps ErrSpoolOccupied and names the current holder so
// callers can report who has the spool.
type OccupiedError struct {
	Tag    string
	Holder string
}

func (e *OccupiedError) Error() string {
	return fmt.Sprintf("spool occupied: %q held by %s", e.Tag, e.Holder)
}

// Unwrap makes errors.Is(err, ErrSpoolOccupied) work.
func (e *OccupiedError) Unwrap() error { return ErrSpoolOccupied }

// Occupied builds an OccupiedError for the given tag and holder.
func Occupied(tag, holder string) error {
	return &OccupiedError{Tag: tag, Holder: holder}
}

// Kind returns the stable kind name of an error for logging and
// metrics labels. Unrecognized errors report as "Unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrSpoolOccupied):
		return "SpoolOccupied"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrGone):
		return "Gone"
	case errors.Is(err, ErrDependenciesNotSatisfied):
		return "DependenciesNotSatisfied"
	case errors.Is(err, ErrAlreadyCompleted):
		return "AlreadyCompleted"
	case errors.Is(err, ErrSpoolBloqueado):
		return "SpoolBloqueado"
	case errors.Is(err, ErrVersionConflict):
		return "VersionConflict"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrValidationFailed):
		return "ValidationFailed"
	case errors.Is(err, ErrTransientBackend):
		return "TransientBackendError"
	}
	return "Unknown"
}
