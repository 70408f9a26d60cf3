package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// Store is durable CRUD over sessions and turns. Every backend enforces the
// same invariants: create rejects duplicate ids, appendTurn rejects anything
// but the next turn number, and a completed session never mutates again.
// Callers never need to know which backend is active.
type Store interface {
	// Create registers a new active session. Fails with
	// session.ErrDuplicateSession when the id already exists.
	Create(ctx context.Context, id string, initialRequest string) (*session.Session, error)

	// Get loads one session, degrading corrupted optional fields per
	// session.DecodeRecord. Returns session.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*session.Session, error)

	// AppendTurn commits one turn. This is the single commit point of the
	// turn loop: a turn visible through Get is fully committed.
	AppendTurn(ctx context.Context, id string, t session.Turn) error

	// UpdateState overwrites the working snapshot.
	UpdateState(ctx context.Context, id string, st session.State) error

	// UpdateStatus moves the lifecycle forward. completed -> active fails
	// with *session.InvalidTransitionError.
	UpdateStatus(ctx context.Context, id string, status session.Status) error

	// List returns summaries, most recently created first, plus the total
	// count across all pages.
	List(ctx context.Context, limit int, offset int) ([]session.Summary, int, error)

	// Delete removes a session and its turns; reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend at process start. All call sites
// depend only on the Store interface.
type Options struct {
	Backend string
	// DSN is the sqlite file DSN or the postgres connection string,
	// depending on Backend.
	DSN string
}

// Open constructs the configured backend.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(opts.DSN)
	case BackendPostgres:
		return NewPostgresStore(opts.DSN)
	default:
		return nil, errors.Errorf("store: unknown backend %q", opts.Backend)
	}
}

func checkStatusTransition(from session.Status, to session.Status) error {
	if !session.ValidStatus(to) {
		return &session.InvalidTransitionError{From: from, To: to, Op: "update status"}
	}
	if from == session.StatusCompleted && to == session.StatusActive {
		return &session.InvalidTransitionError{From: from, To: to, Op: "update status"}
	}
	return nil
}

func encodeStateJSON(st session.State) (string, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return "", errors.Wrap(err, "store: marshal state")
	}
	return string(b), nil
}

func normalizeListWindow(limit int, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
