package session

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a Session. Transitions are monotonic:
// once completed, a session never becomes active again.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusCompleted
}

// State is the working snapshot carried between turns: the prompt the next
// generation pass will use, plus the rationale the refiner gave for it. It is
// persisted redundantly so a resumed process never replays turn history to
// rebuild it.
type State struct {
	Prompt    string    `json:"prompt"`
	Rationale string    `json:"rationale,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feedback is the structured evaluation result attached to a turn or variant.
type Feedback struct {
	Strengths             []string `json:"strengths,omitempty"`
	Issues                []string `json:"issues,omitempty"`
	SuggestedImprovements []string `json:"suggested_improvements,omitempty"`
	Raw                   string   `json:"raw,omitempty"`
}

// Empty reports whether the feedback carries no content at all.
func (f Feedback) Empty() bool {
	return len(f.Strengths) == 0 && len(f.Issues) == 0 &&
		len(f.SuggestedImprovements) == 0 && strings.TrimSpace(f.Raw) == ""
}

// Artifact is one generated variant within a turn. Ref points at the stored
// artifact (a file path or URI); the bytes themselves never live in the
// session record. Per-variant score/feedback are retained so a human can
// override the automatic selection later without regenerating.
type Artifact struct {
	Index     int       `json:"index"`
	Ref       string    `json:"ref"`
	MediaType string    `json:"media_type,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

// Turn is one committed generate+evaluate cycle. TurnNumber starts at 1 and
// is assigned by the orchestrator, never by callers; it is the de-duplication
// key for resume. Score and Feedback are copied from the selected variant.
type Turn struct {
	TurnNumber      int        `json:"turn_number"`
	PromptUsed      string     `json:"prompt_used"`
	Artifacts       []Artifact `json:"artifacts"`
	SelectedVariant int        `json:"selected_variant"`
	Score           *float64   `json:"score,omitempty"`
	Feedback        *Feedback  `json:"feedback,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Session is one refinement conversation. The store is the authority; any
// in-memory Session must be rehydratable from it.
type Session struct {
	ID             string    `json:"id"`
	InitialRequest string    `json:"initial_request"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	CurrentState   State     `json:"current_state"`
	Turns          []Turn    `json:"turns"`
}

// Summary is the listing projection of a session.
type Summary struct {
	ID             string    `json:"id"`
	InitialRequest string    `json:"initial_request"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	TurnCount      int       `json:"turn_count"`
	BestScore      *float64  `json:"best_score,omitempty"`
}

// NextTurnNumber is the turn number the next committed turn must carry.
func (s *Session) NextTurnNumber() int {
	return len(s.Turns) + 1
}

// BestTurn returns the index of the highest-scoring turn, ties broken by the
// earliest turn. Returns -1 when no turn carries a score. The result is
// derived purely from the turn list; no cached field is consulted.
func (s *Session) BestTurn() int {
	return BestTurn(s.Turns)
}

// BestTurn selects the highest score with earliest-index tie-break.
func BestTurn(turns []Turn) int {
	best := -1
	for i, t := range turns {
		if t.Score == nil {
			continue
		}
		if best == -1 || *t.Score > *turns[best].Score {
			best = i
		}
	}
	return best
}

// SelectVariant picks the winning variant among scored artifacts: highest
// score first, lowest index on ties. Unscored variants never win unless no
// variant is scored at all, in which case index 0 is selected.
func SelectVariant(artifacts []Artifact) int {
	best := -1
	for i, a := range artifacts {
		if a.Score == nil {
			continue
		}
		if best == -1 || *a.Score > *artifacts[best].Score {
			best = i
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

// Validate checks the turn against what the session would accept next. It
// enforces the gap-free numbering invariant and commit atomicity (a committed
// turn always carries artifacts).
func (s *Session) Validate(t Turn) error {
	if s.Status == StatusCompleted {
		return &InvalidTransitionError{From: StatusCompleted, To: StatusActive, Op: "append turn"}
	}
	if want := s.NextTurnNumber(); t.TurnNumber != want {
		return &OutOfOrderTurnError{SessionID: s.ID, Want: want, Got: t.TurnNumber}
	}
	if len(t.Artifacts) == 0 {
		return ErrTurnWithoutArtifacts
	}
	return nil
}

// Summarize builds the listing projection for the session.
func (s *Session) Summarize() Summary {
	sum := Summary{
		ID:             s.ID,
		InitialRequest: s.InitialRequest,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		TurnCount:      len(s.Turns),
	}
	if i := s.BestTurn(); i >= 0 {
		v := *s.Turns[i].Score
		sum.BestScore = &v
	}
	return sum
}
