package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

func TestMemoryStoreCorruptStateDegrades(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	_, err := st.Create(ctx, "s1", "req")
	require.NoError(t, err)
	require.NoError(t, st.AppendTurn(ctx, "s1", makeTurn(1, 5.0)))

	require.NoError(t, st.Corrupt("s1", "current_state", []byte(`{broken`)))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.State{}, got.CurrentState)
	// Turns are unaffected by the corrupted snapshot.
	require.Len(t, got.Turns, 1)
	assert.Equal(t, 5.0, *got.Turns[0].Score)
}

func TestMemoryStoreCorruptFeedbackDegrades(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	_, err := st.Create(ctx, "s1", "req")
	require.NoError(t, err)
	require.NoError(t, st.AppendTurn(ctx, "s1", makeTurn(1, 5.0)))

	require.NoError(t, st.Corrupt("s1", "feedback", []byte(`not json`)))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Nil(t, got.Turns[0].Feedback)
	assert.Equal(t, 5.0, *got.Turns[0].Score)
}
