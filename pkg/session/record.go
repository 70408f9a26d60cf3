package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Record is the logical persisted shape shared by every store backend. JSON
// columns stay raw here so DecodeRecord is the single place where persisted
// bytes become in-memory values.
type Record struct {
	ID             string
	InitialRequest string
	Status         string
	CreatedAt      time.Time
	CurrentState   []byte
	Turns          []TurnRecord
}

// TurnRecord is the persisted shape of a single turn.
type TurnRecord struct {
	TurnNumber      int
	PromptUsed      string
	Artifacts       []byte
	SelectedVariant int
	Score           *float64
	Feedback        []byte
	CreatedAt       time.Time
}

// DecodeRecord turns a persisted record into a validated Session. Corrupted
// optional fields (state snapshot, feedback, artifact list) degrade to their
// zero values with a warning instead of failing the read, so one bad column
// never breaks lookup or listing. Structural damage that would make the
// session unusable (broken turn numbering, missing id) is returned as a
// *MalformedRecordError.
func DecodeRecord(r Record) (*Session, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return nil, &MalformedRecordError{SessionID: r.ID, Field: "id", Cause: errors.New("empty")}
	}

	s := &Session{
		ID:             id,
		InitialRequest: r.InitialRequest,
		Status:         Status(strings.TrimSpace(r.Status)),
		CreatedAt:      r.CreatedAt,
		Turns:          make([]Turn, 0, len(r.Turns)),
	}
	if !ValidStatus(s.Status) {
		log.Warn().Str("session_id", id).Str("status", r.Status).
			Msg("unknown persisted status, degrading to active")
		s.Status = StatusActive
	}

	if len(r.CurrentState) > 0 {
		var st State
		if err := json.Unmarshal(r.CurrentState, &st); err != nil {
			log.Warn().Str("session_id", id).Err(err).
				Msg("corrupted state snapshot, degrading to empty")
			st = State{}
		}
		s.CurrentState = st
	}

	for i, tr := range r.Turns {
		if want := i + 1; tr.TurnNumber != want {
			return nil, &MalformedRecordError{
				SessionID: id,
				Field:     "turns",
				Cause:     errors.Errorf("turn %d has number %d", want, tr.TurnNumber),
			}
		}
		t := Turn{
			TurnNumber:      tr.TurnNumber,
			PromptUsed:      tr.PromptUsed,
			SelectedVariant: tr.SelectedVariant,
			Score:           tr.Score,
			CreatedAt:       tr.CreatedAt,
		}
		if len(tr.Artifacts) > 0 {
			if err := json.Unmarshal(tr.Artifacts, &t.Artifacts); err != nil {
				log.Warn().Str("session_id", id).Int("turn", tr.TurnNumber).Err(err).
					Msg("corrupted artifact list, degrading to empty")
				t.Artifacts = nil
			}
		}
		if len(tr.Feedback) > 0 {
			var fb Feedback
			if err := json.Unmarshal(tr.Feedback, &fb); err != nil {
				log.Warn().Str("session_id", id).Int("turn", tr.TurnNumber).Err(err).
					Msg("corrupted feedback, degrading to empty")
			} else {
				t.Feedback = &fb
			}
		}
		s.Turns = append(s.Turns, t)
	}

	return s, nil
}

// EncodeRecord is the inverse of DecodeRecord; it produces the backend-agnostic
// persisted shape for a session.
func EncodeRecord(s *Session) (Record, error) {
	if s == nil {
		return Record{}, errors.New("session: encode nil session")
	}
	stateJSON, err := json.Marshal(s.CurrentState)
	if err != nil {
		return Record{}, errors.Wrap(err, "session: marshal state")
	}
	r := Record{
		ID:             s.ID,
		InitialRequest: s.InitialRequest,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		CurrentState:   stateJSON,
		Turns:          make([]TurnRecord, 0, len(s.Turns)),
	}
	for _, t := range s.Turns {
		tr, err := EncodeTurn(t)
		if err != nil {
			return Record{}, err
		}
		r.Turns = append(r.Turns, tr)
	}
	return r, nil
}

// EncodeTurn serializes a single turn for persistence.
func EncodeTurn(t Turn) (TurnRecord, error) {
	artifactsJSON, err := json.Marshal(t.Artifacts)
	if err != nil {
		return TurnRecord{}, errors.Wrapf(err, "session: marshal artifacts for turn %d", t.TurnNumber)
	}
	tr := TurnRecord{
		TurnNumber:      t.TurnNumber,
		PromptUsed:      t.PromptUsed,
		Artifacts:       artifactsJSON,
		SelectedVariant: t.SelectedVariant,
		Score:           t.Score,
		CreatedAt:       t.CreatedAt,
	}
	if t.Feedback != nil {
		fbJSON, err := json.Marshal(t.Feedback)
		if err != nil {
			return TurnRecord{}, errors.Wrapf(err, "session: marshal feedback for turn %d", t.TurnNumber)
		}
		tr.Feedback = fbJSON
	}
	return tr, nil
}
