package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/goliatone/go-signatures/core"
)

const defaultWriteTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// EventSink publishes engine events as JSON records keyed by request id, so
// every event of one request lands on the same partition.
type EventSink struct {
	writer  MessageWriter
	timeout time.Duration
}

type Option func(*EventSink)

func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *EventSink) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewWriter builds the kafka-go writer used in production.
func NewWriter(brokers []string, topic string) (*kafkago.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}, nil
}

func NewEventSink(writer MessageWriter, opts ...Option) (*EventSink, error) {
	if writer == nil {
		return nil, fmt.Errorf("kafka: writer is required")
	}
	sink := &EventSink{writer: writer, timeout: defaultWriteTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(sink)
		}
	}
	return sink, nil
}

func (s *EventSink) Publish(ctx context.Context, event core.Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", event.Type, err)
	}
	return nil
}

func (s *EventSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

func encodeEvent(event core.Event) (kafkago.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: encode event: %w", err)
	}
	key := event.RequestID
	if key == "" {
		key = event.ID
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.At,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

var _ core.EventSink = (*EventSink)(nil)
