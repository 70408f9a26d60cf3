package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	score := 7.5
	sent := Event{
		Type:       TurnCommitted,
		SessionID:  "s1",
		TurnNumber: 3,
		Variants:   2,
		Score:      &score,
	}
	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case msg := <-ch:
		got, err := Decode(msg)
		require.NoError(t, err)
		msg.Ack()
		assert.Equal(t, TurnCommitted, got.Type)
		assert.Equal(t, "s1", got.SessionID)
		assert.Equal(t, 3, got.TurnNumber)
		require.NotNil(t, got.Score)
		assert.Equal(t, 7.5, *got.Score)
		assert.False(t, got.At.IsZero())
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	types := []Type{SessionStarted, TurnGenerating, TurnEvaluating, TurnCommitted, SessionCompleted}
	for _, typ := range types {
		require.NoError(t, bus.Publish(ctx, Event{Type: typ, SessionID: "s1"}))
	}

	for _, want := range types {
		select {
		case msg := <-ch:
			got, err := Decode(msg)
			require.NoError(t, err)
			msg.Ack()
			assert.Equal(t, want, got.Type)
		case <-ctx.Done():
			t.Fatalf("missing event %s", want)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewBus()
	defer func() { _ = bus.Close() }()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, Event{Type: TurnFailed, SessionID: "s1"}))

	msg := <-ch
	msg.Payload = []byte("not json")
	_, err = Decode(msg)
	require.Error(t, err)
	msg.Ack()
}
