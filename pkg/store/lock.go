package store

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// Locker enforces single-writer-per-session. Acquire either grants the lock
// and returns its release function, or fails fast with session.ErrSessionBusy
// so concurrent mutations are rejected rather than interleaved. Reads never
// take the lock.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// KeyedLocker is the in-process Locker: one try-lock per session id.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = &KeyedLocker{}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: map[string]struct{}{}}
}

func (l *KeyedLocker) Acquire(_ context.Context, sessionID string) (func(), error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("keyed locker: session id is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sessionID]; ok {
		return nil, errors.Wrapf(session.ErrSessionBusy, "keyed locker: %s", sessionID)
	}
	l.held[sessionID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, sessionID)
			l.mu.Unlock()
		})
	}
	return release, nil
}
