package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// MemoryStore is an in-memory Store used by tests and as a scratch backend.
// It mirrors the ordering and invariant semantics of the durable backends so
// orchestrator behavior is identical regardless of backend. Sessions are kept
// in encoded form and rehydrated through session.DecodeRecord on every read,
// matching what the durable backends do.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*session.Record
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*session.Record{}}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Create(_ context.Context, id string, initialRequest string) (*session.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("memory store: id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return nil, errors.Wrapf(session.ErrDuplicateSession, "memory store: %s", id)
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:             id,
		InitialRequest: initialRequest,
		Status:         session.StatusActive,
		CreatedAt:      now,
		CurrentState:   session.State{Prompt: initialRequest, UpdatedAt: now},
	}
	rec, err := session.EncodeRecord(sess)
	if err != nil {
		return nil, err
	}
	s.records[id] = &rec
	return sess, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	rec, ok := s.records[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(session.ErrNotFound, "memory store: %s", id)
	}
	return session.DecodeRecord(*rec)
}

func (s *MemoryStore) AppendTurn(_ context.Context, id string, t session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return errors.Wrapf(session.ErrNotFound, "memory store: %s", id)
	}
	if session.Status(rec.Status) == session.StatusCompleted {
		return &session.InvalidTransitionError{
			From: session.StatusCompleted, To: session.StatusActive, Op: "append turn",
		}
	}
	if want := len(rec.Turns) + 1; t.TurnNumber != want {
		return &session.OutOfOrderTurnError{SessionID: id, Want: want, Got: t.TurnNumber}
	}
	if len(t.Artifacts) == 0 {
		return session.ErrTurnWithoutArtifacts
	}
	tr, err := session.EncodeTurn(t)
	if err != nil {
		return err
	}
	rec.Turns = append(rec.Turns, tr)
	return nil
}

func (s *MemoryStore) UpdateState(_ context.Context, id string, st session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return errors.Wrapf(session.ErrNotFound, "memory store: %s", id)
	}
	sess, err := session.DecodeRecord(*rec)
	if err != nil {
		return err
	}
	sess.CurrentState = st
	next, err := session.EncodeRecord(sess)
	if err != nil {
		return err
	}
	*rec = next
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status session.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return errors.Wrapf(session.ErrNotFound, "memory store: %s", id)
	}
	if err := checkStatusTransition(session.Status(rec.Status), status); err != nil {
		return err
	}
	rec.Status = string(status)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int, offset int) ([]session.Summary, int, error) {
	limit, offset = normalizeListWindow(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]session.Summary, 0, len(s.records))
	for _, rec := range s.records {
		sess, err := session.DecodeRecord(*rec)
		if err != nil {
			// A structurally broken record must not break listing of the rest.
			continue
		}
		summaries = append(summaries, sess.Summarize())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	total := len(summaries)
	if offset >= total {
		return []session.Summary{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return summaries[offset:end], total, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

// Corrupt overwrites a stored field with raw bytes. Test hook for the
// malformed-record degradation paths; durable backends are corrupted through
// SQL directly instead.
func (s *MemoryStore) Corrupt(id string, field string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return errors.Wrapf(session.ErrNotFound, "memory store: %s", id)
	}
	switch field {
	case "current_state":
		rec.CurrentState = raw
	case "feedback":
		if len(rec.Turns) == 0 {
			return errors.New("memory store: no turns to corrupt")
		}
		rec.Turns[len(rec.Turns)-1].Feedback = raw
	default:
		return errors.Errorf("memory store: unknown field %q", field)
	}
	return nil
}
