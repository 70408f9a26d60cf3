package adapters

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Provider names accepted in configuration.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig selects and credentials the model backends.
type ProviderConfig struct {
	Generator string
	Judge     string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	JudgeModel string
}

// Set bundles the three collaborators a refinement loop needs. The judge
// provider serves both evaluation and refinement.
type Set struct {
	Generator Generator
	Evaluator Evaluator
	Refiner   Refiner

	closers []io.Closer
}

// NewSet builds the collaborators named by cfg. Unknown provider names are
// rejected up front rather than at first use.
func NewSet(ctx context.Context, cfg ProviderConfig) (*Set, error) {
	set := &Set{}

	// A single mock instance serves all three roles so scripted scores
	// stay in one sequence.
	var sharedMock *MockProvider
	mock := func() *MockProvider {
		if sharedMock == nil {
			sharedMock = NewMockProvider()
		}
		return sharedMock
	}

	switch cfg.Generator {
	case ProviderMock, "":
		set.Generator = mock()
	case ProviderOpenAI:
		g, err := NewOpenAIGenerator(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		set.Generator = g
	case ProviderGemini:
		g, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		set.Generator = g
		set.closers = append(set.closers, g)
	default:
		return nil, errors.Errorf("adapters: unknown generator provider %q", cfg.Generator)
	}

	switch cfg.Judge {
	case ProviderMock, "":
		m := mock()
		set.Evaluator = m
		set.Refiner = m
	case ProviderOpenAI:
		j, err := NewOpenAIJudge(cfg.OpenAIAPIKey, cfg.JudgeModel)
		if err != nil {
			return nil, err
		}
		set.Evaluator = j
		set.Refiner = j
	case ProviderAnthropic:
		j, err := NewAnthropicJudge(cfg.AnthropicAPIKey, cfg.JudgeModel)
		if err != nil {
			return nil, err
		}
		set.Evaluator = j
		set.Refiner = j
	default:
		return nil, errors.Errorf("adapters: unknown judge provider %q", cfg.Judge)
	}

	return set, nil
}

// Close releases any provider clients holding connections.
func (s *Set) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
