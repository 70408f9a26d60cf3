package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors shared by all store backends.
var (
	ErrNotFound             = errors.New("session: not found")
	ErrDuplicateSession     = errors.New("session: duplicate id")
	ErrSessionBusy          = errors.New("session: busy, another writer holds the lock")
	ErrTurnWithoutArtifacts = errors.New("session: turn has no artifacts")
)

// OutOfOrderTurnError reports an appendTurn whose turn number is not exactly
// len(existing_turns)+1. The store never renumbers silently.
type OutOfOrderTurnError struct {
	SessionID string
	Want      int
	Got       int
}

func (e *OutOfOrderTurnError) Error() string {
	return fmt.Sprintf("session %s: out-of-order turn: want %d, got %d", e.SessionID, e.Want, e.Got)
}

// InvalidTransitionError reports a forbidden status change, including the
// implicit completed→active transition an append after completion would be.
type InvalidTransitionError struct {
	From Status
	To   Status
	Op   string
}

func (e *InvalidTransitionError) Error() string {
	op := e.Op
	if op == "" {
		op = "update status"
	}
	return fmt.Sprintf("session: invalid transition %s -> %s (%s)", e.From, e.To, op)
}

// MalformedRecordError reports a persisted record that failed validation as a
// whole. Individual corrupted fields degrade to defaults instead; this error
// is reserved for records that cannot produce a usable Session at all.
type MalformedRecordError struct {
	SessionID string
	Field     string
	Cause     error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("session %s: malformed record field %q: %v", e.SessionID, e.Field, e.Cause)
}

func (e *MalformedRecordError) Unwrap() error { return e.Cause }

// IsInvariantViolation reports whether err belongs to the class of
// programming/race bugs that must halt automated loops instead of being
// silently corrected.
func IsInvariantViolation(err error) bool {
	var oo *OutOfOrderTurnError
	var it *InvalidTransitionError
	return errors.As(err, &oo) || errors.As(err, &it) || errors.Is(err, ErrDuplicateSession)
}
