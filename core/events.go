package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AsyncEventSink forwards events to a downstream sink from a single goroutine.
// Publish never blocks: when the buffer is full the event is dropped and counted.
type AsyncEventSink struct {
	sink      EventSink
	telemetry Telemetry
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewAsyncEventSink(sink EventSink, bufferSize int, telemetry Telemetry) *AsyncEventSink {
	if sink == nil {
		sink = NopEventSink{}
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &AsyncEventSink{
		sink:      sink,
		telemetry: telemetry,
		ch:        make(chan Event, bufferSize),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AsyncEventSink) run() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.ch:
			s.forward(event)
		case <-s.done:
			for {
				select {
				case event := <-s.ch:
					s.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncEventSink) forward(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Publish(ctx, event); err != nil {
		s.failed.Add(1)
		s.telemetry.Warn(ctx, "event publish failed", map[string]any{
			"event_type": string(event.Type),
			"request_id": event.RequestID,
			"error":      err.Error(),
		})
	}
}

func (s *AsyncEventSink) Publish(_ context.Context, event Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- event:
	case <-s.done:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Close drains buffered events and stops the forwarding goroutine.
func (s *AsyncEventSink) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
	})
}

func (s *AsyncEventSink) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *AsyncEventSink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(eventType EventType, requestID string, attributes map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		At:         time.Now().UTC(),
		RequestID:  requestID,
		Attributes: copyStringMap(attributes),
	}
}

// EmitEvent publishes to sink and only logs a failure.
func EmitEvent(ctx context.Context, sink EventSink, telemetry Telemetry, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, event); err != nil {
		telemetry.Warn(ctx, "event publish failed", map[string]any{
			"event_type": string(event.Type),
			"request_id": event.RequestID,
			"error":      err.Error(),
		})
	}
}

var _ EventSink = (*AsyncEventSink)(nil)
