package streaming

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/events"
)

// Sink is the delivery side of a stream: a WebSocket connection, an SSE
// response writer, a watermill topic. The accumulator does not care which.
type Sink interface {
	Send(event events.Event) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(event events.Event) error

func (f SinkFunc) Send(event events.Event) error {
	return f(event)
}

// NullSink discards all events. Useful for tests and fire-and-forget runs.
type NullSink struct{}

var _ Sink = (*NullSink)(nil)

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) Send(_ events.Event) error {
	return nil
}

// WatermillSink publishes events to a watermill topic, fanning them out to
// any number of subscribers (SSE handlers, websocket pumps, loggers).
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ Sink = (*WatermillSink)(nil)

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) Send(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("failed to publish event")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("published event")
	return nil
}
