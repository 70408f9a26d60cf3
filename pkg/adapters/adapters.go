// Package adapters defines the external collaborator boundaries of the
// refinement loop: artifact generation, evaluation (judging), prompt
// refinement, and optional context enrichment. Providers are selected by
// configuration, never inferred from response shapes.
package adapters

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// ErrNoArtifact signals that the provider answered but produced nothing
// usable. Distinct from transport/auth failures so callers can tell "retry
// with a different prompt" from "fix your credentials".
var ErrNoArtifact = errors.New("adapters: no artifact produced")

// Asset is an input image (logo, reference drawing) handed to the generator.
type Asset struct {
	Name      string
	MediaType string
	Data      []byte
}

// GenerationSettings are the sampling knobs of one generation call.
type GenerationSettings struct {
	Model        string
	Temperature  float64
	Size         string
	Quality      string
	VariantCount int
}

// GeneratedArtifact is one produced image.
type GeneratedArtifact struct {
	Data      []byte
	MediaType string
}

// GenerateResult is the full output of one generation call.
type GenerateResult struct {
	Artifacts    []GeneratedArtifact
	ResponseText string
	Metadata     map[string]any
}

// Generator produces one or more artifacts from a prompt. Implementations
// must honor ctx cancellation and deadlines; the orchestrator treats a
// deadline as a retryable failure and relies on ctx to tear the call down.
type Generator interface {
	Generate(ctx context.Context, prompt string, assets []Asset, settings GenerationSettings) (*GenerateResult, error)
}

// EvalContext carries what the judge needs besides the artifact itself.
type EvalContext struct {
	OriginalRequest string
	Rubric          Rubric
}

// Evaluation is the judge verdict for a single artifact.
type Evaluation struct {
	Score    float64
	Feedback session.Feedback
}

// Evaluator scores one artifact against the original request and rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, artifact GeneratedArtifact, evalCtx EvalContext) (*Evaluation, error)
}

// TurnSummary is the compact turn history handed to the refiner.
type TurnSummary struct {
	TurnNumber int
	Prompt     string
	Score      *float64
	Feedback   string
}

// Refinement is the refiner's answer: the next working prompt plus why.
type Refinement struct {
	NewPrompt string
	Rationale string
}

// Refiner rewrites the working prompt from history and the latest feedback.
type Refiner interface {
	Refine(ctx context.Context, history []TurnSummary, currentPrompt string, latestFeedback string) (*Refinement, error)
}

// Enricher is the optional mid-turn context lookup. Absence is a fully
// supported configuration; a nil Enricher simply skips the step. An empty
// result means "nothing found" and is not an error.
type Enricher interface {
	Enrich(ctx context.Context, query string) (string, error)
}
