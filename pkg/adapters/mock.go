package adapters

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// MockProvider produces deterministic artifacts and scores without any
// network calls. It backs the offline provider and most of the test suite.
//
// Scores follow a scripted ramp: each call to Evaluate pops the next value
// from Scores, and once the script is exhausted the last value repeats.
type MockProvider struct {
	mu     sync.Mutex
	calls  int
	evals  int
	Scores []float64

	// FailGenerate and FailEvaluate short-circuit the corresponding call
	// with the given error when non-nil.
	FailGenerate error
	FailEvaluate error
}

var (
	_ Generator = (*MockProvider)(nil)
	_ Evaluator = (*MockProvider)(nil)
	_ Refiner   = (*MockProvider)(nil)
)

// NewMockProvider scripts the given evaluation scores. With no scores the
// evaluator ramps 5.0, 6.0, 7.0, ... per call.
func NewMockProvider(scores ...float64) *MockProvider {
	return &MockProvider{Scores: scores}
}

func (m *MockProvider) Generate(ctx context.Context, prompt string, assets []Asset, settings GenerationSettings) (*GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.FailGenerate != nil {
		err := m.FailGenerate
		m.mu.Unlock()
		return nil, err
	}
	m.calls++
	call := m.calls
	m.mu.Unlock()

	n := settings.VariantCount
	if n < 1 {
		n = 1
	}
	artifacts := make([]GeneratedArtifact, 0, n)
	for i := 0; i < n; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", prompt, call, i)))
		artifacts = append(artifacts, GeneratedArtifact{
			Data:      sum[:],
			MediaType: "image/png",
		})
	}
	return &GenerateResult{
		Artifacts:    artifacts,
		ResponseText: fmt.Sprintf("mock generation %d for %q", call, truncate(prompt, 60)),
	}, nil
}

func (m *MockProvider) Evaluate(ctx context.Context, artifact GeneratedArtifact, evalCtx EvalContext) (*Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.FailEvaluate != nil {
		err := m.FailEvaluate
		m.mu.Unlock()
		return nil, err
	}
	var score float64
	switch {
	case len(m.Scores) == 0:
		score = 5.0 + float64(m.evals)
	case m.evals < len(m.Scores):
		score = m.Scores[m.evals]
	default:
		score = m.Scores[len(m.Scores)-1]
	}
	m.evals++
	m.mu.Unlock()

	max := evalCtx.Rubric.ScaleMax
	if max > 0 && score > max {
		score = max
	}
	return &Evaluation{
		Score: score,
		Feedback: session.Feedback{
			Strengths: []string{"consistent layout"},
			Issues:    []string{fmt.Sprintf("scored %.1f of %.1f", score, max)},
		},
	}, nil
}

func (m *MockProvider) Refine(ctx context.Context, history []TurnSummary, currentPrompt string, latestFeedback string) (*Refinement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fb := strings.TrimSpace(latestFeedback)
	if fb == "" {
		fb = "no feedback"
	}
	return &Refinement{
		NewPrompt: fmt.Sprintf("%s [revised after turn %d: %s]", currentPrompt, len(history), truncate(fb, 80)),
		Rationale: "mock refinement folding the latest feedback into the prompt",
	}, nil
}

// EvaluateCount reports how many evaluations ran, for assertions.
func (m *MockProvider) EvaluateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evals
}
