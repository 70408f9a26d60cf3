package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

func TestKeyedLockerExcludesSecondWriter(t *testing.T) {
	ctx := context.Background()
	l := NewKeyedLocker()

	release, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "s1")
	require.ErrorIs(t, err, session.ErrSessionBusy)

	// Other sessions are independent.
	release2, err := l.Acquire(ctx, "s2")
	require.NoError(t, err)
	release2()

	release()
	release3, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)
	release3()
}

func TestKeyedLockerReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewKeyedLocker()

	release, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(ctx, "s1")
	require.NoError(t, err)
	again()
}
