package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/cartouche-dev/cartouche/pkg/orchestrator"
	"github.com/cartouche-dev/cartouche/pkg/session"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitGeneric},
		{"not found", errors.Wrap(session.ErrNotFound, "session x"), exitNotFound},
		{"busy", errors.Wrap(session.ErrSessionBusy, "session x"), exitBusy},
		{"out of order", &session.OutOfOrderTurnError{Want: 2, Got: 4}, exitInvariant},
		{"bad transition", &session.InvalidTransitionError{From: session.StatusCompleted, To: session.StatusActive}, exitInvariant},
		{"adapter", &orchestrator.AdapterError{Stage: "generation", Err: errors.New("rate limit")}, exitAdapter},
		{"persistence", &orchestrator.PersistenceError{Op: "append turn", Attempts: 3, Err: errors.New("disk")}, exitPersistence},
		{"timeout wrapped adapter", errors.Wrap(&orchestrator.AdapterError{Stage: "generation", Err: context.DeadlineExceeded}, "turn 2"), exitAdapter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}
