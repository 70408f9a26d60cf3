package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

// Topic carries every refinement progress event.
const Topic = "cartouche.progress"

type Type string

const (
	SessionStarted   Type = "session.started"
	TurnGenerating   Type = "turn.generating"
	TurnEvaluating   Type = "turn.evaluating"
	TurnCommitted    Type = "turn.committed"
	StateRefined     Type = "state.refined"
	SessionCompleted Type = "session.completed"
	TurnFailed       Type = "turn.failed"
)

// Event is the envelope published for each loop transition. Fields other
// than Type and SessionID are set when they apply.
type Event struct {
	Type       Type      `json:"type"`
	SessionID  string    `json:"session_id"`
	TurnNumber int       `json:"turn_number,omitempty"`
	Variants   int       `json:"variants,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Bus is an in-process publisher for progress events. Subscribers attach
// before the loop starts and drain until the channel closes.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, NewWatermillLogger()),
	}
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "events: marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return errors.Wrap(err, "events: publish")
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, errors.Wrap(err, "events: subscribe")
	}
	return ch, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode unmarshals a bus message back into its event.
func Decode(msg *message.Message) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, errors.Wrap(err, "events: decode event")
	}
	return &ev, nil
}
