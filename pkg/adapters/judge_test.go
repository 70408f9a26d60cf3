package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJudgeVerdict(t *testing.T) {
	text := "Here is my assessment:\n```json\n" +
		`{"score": 7.5, "strengths": ["good layout"], "issues": ["font too small"], "suggested_improvements": ["larger labels"]}` +
		"\n```"
	ev, err := parseJudgeVerdict(text, 10)
	require.NoError(t, err)
	assert.Equal(t, 7.5, ev.Score)
	assert.Equal(t, []string{"good layout"}, ev.Feedback.Strengths)
	assert.Equal(t, []string{"font too small"}, ev.Feedback.Issues)
	assert.Equal(t, []string{"larger labels"}, ev.Feedback.SuggestedImprovements)
	assert.NotEmpty(t, ev.Feedback.Raw)
}

func TestParseJudgeVerdictClampsScore(t *testing.T) {
	ev, err := parseJudgeVerdict(`{"score": 99}`, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, ev.Score)

	ev, err = parseJudgeVerdict(`{"score": -3}`, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ev.Score)
}

func TestParseJudgeVerdictRejectsProse(t *testing.T) {
	_, err := parseJudgeVerdict("I think it looks fine.", 10)
	require.Error(t, err)
}

func TestParseRefinerAnswer(t *testing.T) {
	ref, err := parseRefinerAnswer(`{"new_prompt": "diagram, larger labels", "rationale": "labels were flagged"}`)
	require.NoError(t, err)
	assert.Equal(t, "diagram, larger labels", ref.NewPrompt)
	assert.Equal(t, "labels were flagged", ref.Rationale)
}

func TestParseRefinerAnswerRejectsEmptyPrompt(t *testing.T) {
	_, err := parseRefinerAnswer(`{"new_prompt": "  ", "rationale": "??"}`)
	require.Error(t, err)
}

func TestJudgeInstructionsIncludeRequestAndRubric(t *testing.T) {
	rubric := DefaultRubric()
	got := judgeInstructions(EvalContext{OriginalRequest: "draw a gantt chart", Rubric: rubric})
	assert.Contains(t, got, "draw a gantt chart")
	for _, c := range rubric.Criteria {
		assert.Contains(t, got, c.Name)
	}
	assert.Contains(t, got, `"score"`)
}

func TestRefinerInstructionsIncludeHistory(t *testing.T) {
	s := 6.0
	got := refinerInstructions([]TurnSummary{
		{TurnNumber: 1, Prompt: "v1", Score: &s, Feedback: "too busy"},
	}, "v1", "simplify")
	assert.Contains(t, got, "v1")
	assert.Contains(t, got, "too busy")
	assert.Contains(t, got, "simplify")
	assert.Contains(t, got, `"new_prompt"`)
}
