package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() Record {
	return Record{
		ID:             "s1",
		InitialRequest: "draw a sequence diagram",
		Status:         "active",
		CreatedAt:      time.Now(),
		CurrentState:   []byte(`{"prompt":"draw a sequence diagram"}`),
		Turns: []TurnRecord{
			{
				TurnNumber: 1,
				PromptUsed: "draw a sequence diagram",
				Artifacts:  []byte(`[{"index":0,"ref":"/tmp/a.png","score":6.5}]`),
				Score:      score(6.5),
				Feedback:   []byte(`{"issues":["labels overlap"]}`),
				CreatedAt:  time.Now(),
			},
		},
	}
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	sess, err := DecodeRecord(validRecord())
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, "draw a sequence diagram", sess.CurrentState.Prompt)
	require.Len(t, sess.Turns, 1)
	require.Len(t, sess.Turns[0].Artifacts, 1)
	assert.Equal(t, "/tmp/a.png", sess.Turns[0].Artifacts[0].Ref)
	require.NotNil(t, sess.Turns[0].Feedback)
	assert.Equal(t, []string{"labels overlap"}, sess.Turns[0].Feedback.Issues)
}

func TestDecodeRecordEmptyIDFails(t *testing.T) {
	r := validRecord()
	r.ID = "  "
	_, err := DecodeRecord(r)
	var mal *MalformedRecordError
	require.ErrorAs(t, err, &mal)
	assert.Equal(t, "id", mal.Field)
}

func TestDecodeRecordUnknownStatusDegradesToActive(t *testing.T) {
	r := validRecord()
	r.Status = "paused"
	sess, err := DecodeRecord(r)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
}

func TestDecodeRecordCorruptStateDegradesToEmpty(t *testing.T) {
	r := validRecord()
	r.CurrentState = []byte(`{not json`)
	sess, err := DecodeRecord(r)
	require.NoError(t, err)
	assert.Equal(t, State{}, sess.CurrentState)
	// The rest of the record is untouched.
	require.Len(t, sess.Turns, 1)
}

func TestDecodeRecordCorruptFeedbackDegrades(t *testing.T) {
	r := validRecord()
	r.Turns[0].Feedback = []byte(`???`)
	sess, err := DecodeRecord(r)
	require.NoError(t, err)
	assert.Nil(t, sess.Turns[0].Feedback)
	// Score lives in its own column and survives.
	require.NotNil(t, sess.Turns[0].Score)
	assert.Equal(t, 6.5, *sess.Turns[0].Score)
}

func TestDecodeRecordCorruptArtifactsDegrades(t *testing.T) {
	r := validRecord()
	r.Turns[0].Artifacts = []byte(`[{"index":`)
	sess, err := DecodeRecord(r)
	require.NoError(t, err)
	assert.Empty(t, sess.Turns[0].Artifacts)
}

func TestDecodeRecordTurnGapFails(t *testing.T) {
	r := validRecord()
	r.Turns = append(r.Turns, TurnRecord{TurnNumber: 3, Artifacts: []byte(`[]`)})
	_, err := DecodeRecord(r)
	var mal *MalformedRecordError
	require.ErrorAs(t, err, &mal)
	assert.Equal(t, "turns", mal.Field)
}

func TestEncodeDecodeRecord(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	orig := &Session{
		ID:             "s2",
		InitialRequest: "architecture overview",
		Status:         StatusCompleted,
		CreatedAt:      now,
		CurrentState:   State{Prompt: "v2 prompt", Rationale: "tightened labels", UpdatedAt: now},
		Turns: []Turn{
			{
				TurnNumber:      1,
				PromptUsed:      "v1 prompt",
				Artifacts:       []Artifact{{Index: 0, Ref: "/tmp/x.png", Score: score(7)}},
				SelectedVariant: 0,
				Score:           score(7),
				Feedback:        &Feedback{Strengths: []string{"clean layout"}},
				CreatedAt:       now,
			},
		},
	}
	rec, err := EncodeRecord(orig)
	require.NoError(t, err)
	got, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, orig.Status, got.Status)
	assert.Equal(t, orig.CurrentState.Prompt, got.CurrentState.Prompt)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, orig.Turns[0].Artifacts, got.Turns[0].Artifacts)
	assert.Equal(t, orig.Turns[0].Feedback, got.Turns[0].Feedback)
}
