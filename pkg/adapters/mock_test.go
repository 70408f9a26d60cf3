package adapters

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGenerateIsDeterministicPerCall(t *testing.T) {
	ctx := context.Background()

	a := NewMockProvider()
	b := NewMockProvider()
	settings := GenerationSettings{VariantCount: 2}

	resA, err := a.Generate(ctx, "draw a graph", nil, settings)
	require.NoError(t, err)
	resB, err := b.Generate(ctx, "draw a graph", nil, settings)
	require.NoError(t, err)

	require.Len(t, resA.Artifacts, 2)
	assert.Equal(t, resA.Artifacts, resB.Artifacts)
	assert.NotEqual(t, resA.Artifacts[0].Data, resA.Artifacts[1].Data)

	// A second call produces different bytes for the same prompt.
	resA2, err := a.Generate(ctx, "draw a graph", nil, settings)
	require.NoError(t, err)
	assert.NotEqual(t, resA.Artifacts[0].Data, resA2.Artifacts[0].Data)
}

func TestMockEvaluateFollowsScript(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider(3, 7, 9)
	evalCtx := EvalContext{OriginalRequest: "req", Rubric: DefaultRubric()}

	for _, want := range []float64{3, 7, 9, 9, 9} {
		ev, err := m.Evaluate(ctx, GeneratedArtifact{Data: []byte{1}}, evalCtx)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Score)
	}
	assert.Equal(t, 5, m.EvaluateCount())
}

func TestMockEvaluateClampsToScale(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider(42)
	rubric := DefaultRubric()

	ev, err := m.Evaluate(ctx, GeneratedArtifact{}, EvalContext{Rubric: rubric})
	require.NoError(t, err)
	assert.Equal(t, rubric.ScaleMax, ev.Score)
}

func TestMockFailureHooks(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	m := NewMockProvider()
	m.FailGenerate = boom
	_, err := m.Generate(ctx, "p", nil, GenerationSettings{})
	require.ErrorIs(t, err, boom)

	m = NewMockProvider()
	m.FailEvaluate = boom
	_, err = m.Evaluate(ctx, GeneratedArtifact{}, EvalContext{Rubric: DefaultRubric()})
	require.ErrorIs(t, err, boom)
}

func TestMockRefineFoldsFeedback(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()

	ref, err := m.Refine(ctx, []TurnSummary{{TurnNumber: 1}}, "base prompt", "make arrows thicker")
	require.NoError(t, err)
	assert.Contains(t, ref.NewPrompt, "base prompt")
	assert.Contains(t, ref.NewPrompt, "make arrows thicker")
	assert.NotEmpty(t, ref.Rationale)
}
