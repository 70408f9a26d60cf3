package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

func score(v float64) *float64 { return &v }

func makeTurn(n int, s float64) session.Turn {
	return session.Turn{
		TurnNumber: n,
		PromptUsed: fmt.Sprintf("prompt v%d", n),
		Artifacts: []session.Artifact{
			{Index: 0, Ref: fmt.Sprintf("/tmp/t%d-v0.png", n), MediaType: "image/png", Score: score(s)},
		},
		SelectedVariant: 0,
		Score:           score(s),
		Feedback:        &session.Feedback{Issues: []string{"arrows cross"}},
		CreatedAt:       time.Now().UTC(),
	}
}

// runStoreConformance checks the invariant semantics every backend must
// share. newStore returns a fresh empty store per test.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		st := newStore(t)
		created, err := st.Create(ctx, "s1", "draw a flowchart")
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, created.Status)
		assert.Equal(t, "draw a flowchart", created.CurrentState.Prompt)

		got, err := st.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.Equal(t, "draw a flowchart", got.InitialRequest)
		assert.Empty(t, got.Turns)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "first")
		require.NoError(t, err)
		_, err = st.Create(ctx, "s1", "second")
		require.ErrorIs(t, err, session.ErrDuplicateSession)
	})

	t.Run("get missing session", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Get(ctx, "nope")
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("append turns in order", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "req")
		require.NoError(t, err)

		require.NoError(t, st.AppendTurn(ctx, "s1", makeTurn(1, 4.0)))
		require.NoError(t, st.AppendTurn(ctx, "s1", makeTurn(2, 6.5)))

		got, err := st.Get(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got.Turns, 2)
		assert.Equal(t, 1, got.Turns[0].TurnNumber)
		assert.Equal(t, 2, got.Turns[1].TurnNumber)
		assert.Equal(t, 6.5, *got.Turns[1].Score)
		require.NotNil(t, got.Turns[1].Feedback)
		assert.Equal(t, []string{"arrows cross"}, got.Turns[1].Feedback.Issues)
		assert.Equal(t, 3, got.NextTurnNumber())
	})

	t.Run("append rejects gaps and repeats", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "req")
		require.NoError(t, err)
		require.NoError(t, st.AppendTurn(ctx, "s1", makeTurn(1, 4.0)))

		var oo *session.OutOfOrderTurnError
		err = st.AppendTurn(ctx, "s1", makeTurn(3, 5.0))
		require.ErrorAs(t, err, &oo)
		assert.Equal(t, 2, oo.Want)

		err = st.AppendTurn(ctx, "s1", makeTurn(1, 5.0))
		require.ErrorAs(t, err, &oo)
	})

	t.Run("append rejects empty artifacts", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "req")
		require.NoError(t, err)
		err = st.AppendTurn(ctx, "s1", session.Turn{TurnNumber: 1, PromptUsed: "p"})
		require.ErrorIs(t, err, session.ErrTurnWithoutArtifacts)
	})

	t.Run("append to missing session", func(t *testing.T) {
		st := newStore(t)
		err := st.AppendTurn(ctx, "ghost", makeTurn(1, 4.0))
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("update state survives reload", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "req")
		require.NoError(t, err)

		next := session.State{Prompt: "req, but cleaner", Rationale: "judge flagged clutter", UpdatedAt: time.Now().UTC()}
		require.NoError(t, st.UpdateState(ctx, "s1", next))

		got, err := st.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "req, but cleaner", got.CurrentState.Prompt)
		assert.Equal(t, "judge flagged clutter", got.CurrentState.Rationale)
	})

	t.Run("status is monotonic", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "req")
		require.NoError(t, err)

		require.NoError(t, st.UpdateStatus(ctx, "s1", session.StatusCompleted))

		var it *session.InvalidTransitionError
		err = st.UpdateStatus(ctx, "s1", session.StatusActive)
		require.ErrorAs(t, err, &it)

		// Completed sessions accept no further turns.
		err = st.AppendTurn(ctx, "s1", makeTurn(1, 4.0))
		require.ErrorAs(t, err, &it)

		// Completing again is a no-op, not an error.
		require.NoError(t, st.UpdateStatus(ctx, "s1", session.StatusCompleted))
	})

	t.Run("list newest first with paging", func(t *testing.T) {
		st := newStore(t)
		for i := 1; i <= 3; i++ {
			_, err := st.Create(ctx, fmt.Sprintf("s%d", i), fmt.Sprintf("req %d", i))
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
		}
		require.NoError(t, st.AppendTurn(ctx, "s2", makeTurn(1, 7.5)))

		all, total, err := st.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, all, 3)
		assert.Equal(t, "s3", all[0].ID)
		assert.Equal(t, "s1", all[2].ID)

		var s2 session.Summary
		for _, sum := range all {
			if sum.ID == "s2" {
				s2 = sum
			}
		}
		assert.Equal(t, 1, s2.TurnCount)
		require.NotNil(t, s2.BestScore)
		assert.Equal(t, 7.5, *s2.BestScore)

		page, total, err := st.List(ctx, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, "s1", page[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Create(ctx, "s1", "req")
		require.NoError(t, err)
		require.NoError(t, st.AppendTurn(ctx, "s1", makeTurn(1, 4.0)))

		existed, err := st.Delete(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, existed)

		_, err = st.Get(ctx, "s1")
		require.ErrorIs(t, err, session.ErrNotFound)

		existed, err = st.Delete(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	st, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store { return newTestSQLiteStore(t) })
}

func TestOpenSelectsBackend(t *testing.T) {
	st, err := Open(Options{Backend: BackendMemory})
	require.NoError(t, err)
	_, ok := st.(*MemoryStore)
	assert.True(t, ok)

	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	st, err = Open(Options{Backend: BackendSQLite, DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = Open(Options{Backend: "bolt"})
	require.Error(t, err)
}
