package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestBestTurnPicksHighestScoreEarliestTie(t *testing.T) {
	turns := []Turn{
		{TurnNumber: 1, Score: score(3)},
		{TurnNumber: 2, Score: score(7)},
		{TurnNumber: 3, Score: score(7)},
		{TurnNumber: 4, Score: score(2)},
	}
	assert.Equal(t, 1, BestTurn(turns))
}

func TestBestTurnSkipsUnscored(t *testing.T) {
	turns := []Turn{
		{TurnNumber: 1},
		{TurnNumber: 2, Score: score(4)},
		{TurnNumber: 3},
	}
	assert.Equal(t, 1, BestTurn(turns))
}

func TestBestTurnNoScores(t *testing.T) {
	assert.Equal(t, -1, BestTurn(nil))
	assert.Equal(t, -1, BestTurn([]Turn{{TurnNumber: 1}, {TurnNumber: 2}}))
}

func TestSelectVariant(t *testing.T) {
	t.Run("highest score wins", func(t *testing.T) {
		got := SelectVariant([]Artifact{
			{Index: 0, Score: score(5)},
			{Index: 1, Score: score(8)},
			{Index: 2, Score: score(6)},
		})
		assert.Equal(t, 1, got)
	})

	t.Run("tie goes to lowest index", func(t *testing.T) {
		got := SelectVariant([]Artifact{
			{Index: 0, Score: score(6)},
			{Index: 1, Score: score(6)},
		})
		assert.Equal(t, 0, got)
	})

	t.Run("unscored variants never beat scored ones", func(t *testing.T) {
		got := SelectVariant([]Artifact{
			{Index: 0},
			{Index: 1, Score: score(1)},
		})
		assert.Equal(t, 1, got)
	})

	t.Run("all unscored falls back to first", func(t *testing.T) {
		got := SelectVariant([]Artifact{{Index: 0}, {Index: 1}})
		assert.Equal(t, 0, got)
	})
}

func TestNextTurnNumber(t *testing.T) {
	s := &Session{}
	assert.Equal(t, 1, s.NextTurnNumber())
	s.Turns = append(s.Turns, Turn{TurnNumber: 1}, Turn{TurnNumber: 2})
	assert.Equal(t, 3, s.NextTurnNumber())
}

func TestValidateRejectsOutOfOrderTurn(t *testing.T) {
	s := &Session{ID: "s1", Status: StatusActive, Turns: []Turn{{TurnNumber: 1}}}

	err := s.Validate(Turn{TurnNumber: 3, Artifacts: []Artifact{{}}})
	require.Error(t, err)
	var oo *OutOfOrderTurnError
	require.ErrorAs(t, err, &oo)
	assert.Equal(t, 2, oo.Want)
	assert.Equal(t, 3, oo.Got)
	assert.True(t, IsInvariantViolation(err))
}

func TestValidateRejectsCompletedSession(t *testing.T) {
	s := &Session{ID: "s1", Status: StatusCompleted}

	err := s.Validate(Turn{TurnNumber: 1, Artifacts: []Artifact{{}}})
	require.Error(t, err)
	var it *InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.True(t, IsInvariantViolation(err))
}

func TestValidateRejectsEmptyArtifacts(t *testing.T) {
	s := &Session{ID: "s1", Status: StatusActive}
	err := s.Validate(Turn{TurnNumber: 1})
	require.ErrorIs(t, err, ErrTurnWithoutArtifacts)
}

func TestSummarizeDerivesBestScore(t *testing.T) {
	now := time.Now()
	s := &Session{
		ID:             "s1",
		InitialRequest: "draw a deployment diagram",
		Status:         StatusActive,
		CreatedAt:      now,
		Turns: []Turn{
			{TurnNumber: 1, Score: score(4.5)},
			{TurnNumber: 2, Score: score(8.0)},
		},
	}
	sum := s.Summarize()
	assert.Equal(t, 2, sum.TurnCount)
	require.NotNil(t, sum.BestScore)
	assert.Equal(t, 8.0, *sum.BestScore)
}

func TestSummarizeWithoutScores(t *testing.T) {
	s := &Session{ID: "s1", Status: StatusActive, Turns: []Turn{{TurnNumber: 1}}}
	sum := s.Summarize()
	assert.Nil(t, sum.BestScore)
	assert.Equal(t, 1, sum.TurnCount)
}

func TestFeedbackEmpty(t *testing.T) {
	assert.True(t, Feedback{}.Empty())
	assert.True(t, Feedback{Raw: "  "}.Empty())
	assert.False(t, Feedback{Issues: []string{"too dense"}}.Empty())
}
