package orchestrator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

var (
	// ErrUncommittedTurn guards RunTurn while a generated turn still awaits
	// a successful commit. RetryCommit clears it.
	ErrUncommittedTurn = errors.New("orchestrator: previous turn not committed, retry the commit first")

	// ErrNoPendingTurn means RetryCommit was called with nothing to commit.
	ErrNoPendingTurn = errors.New("orchestrator: no uncommitted turn pending")

	// ErrSessionCompleted rejects iteration on a finished session.
	ErrSessionCompleted = errors.New("orchestrator: session already completed")
)

// AdapterError wraps a failed call to an external model provider. The turn
// it belonged to was discarded; the session record is untouched and the loop
// can retry from the same state.
type AdapterError struct {
	Stage string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter failure during %s: %v", e.Stage, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// PersistenceError wraps a store write that kept failing after bounded
// retries. When Op is "append turn" the generated result is still held in
// memory and RetryCommit can persist it without regeneration.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure on %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed operation may simply be attempted
// again. Invariant violations are never retryable; timeouts and transient
// store failures are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if session.IsInvariantViolation(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return !session.IsInvariantViolation(pe.Err)
	}
	var ae *AdapterError
	return errors.As(err, &ae)
}
