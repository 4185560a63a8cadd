package sessionstore

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session does not exist. The
	// caller must re-ingest; there is nothing to retry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session exists but is past its
	// TTL. Terminal, like ErrSessionNotFound.
	ErrSessionExpired = errors.New("session expired")

	// ErrPatchRejected is returned when a patch batch contains an invalid
	// operation. The batch is all-or-nothing: nothing was applied.
	ErrPatchRejected = errors.New("patch rejected")

	// ErrPathNotFound is returned when a patch op addresses a path that
	// does not exist and the op does not allow creation.
	ErrPathNotFound = errors.New("path not found")

	// ErrInvariantViolated is returned when a mutation would persist a
	// document that breaks a store invariant (unknown stage, conflicting
	// generation flags, mutated artifact ref).
	ErrInvariantViolated = errors.New("session invariant violated")
)

// ConflictError is returned when a mutation does not observe the latest
// session version. The losing writer must reload and resubmit.
type ConflictError struct {
	SessionID       string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on session %s: expected version %d, store has %d",
		e.SessionID, e.ExpectedVersion, e.ActualVersion)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
