package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Emit after the consumer has gone away.
var ErrClosed = errors.New("stream: session closed")

// Session is a single-producer, single-consumer event channel for one
// request. It is unbuffered, so Emit returns only once the consumer has
// taken the event.
type Session struct {
	events     chan Event
	gone       chan struct{}
	closeOnce  sync.Once
	cancelOnce sync.Once
}

func NewSession() *Session {
	return &Session{
		events: make(chan Event),
		gone:   make(chan struct{}),
	}
}

// Emit hands e to the consumer.
func (s *Session) Emit(ctx context.Context, e Event) error {
	select {
	case <-s.gone:
		return ErrClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	case <-s.gone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Close is called by the producer when it has nothing more to send.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Cancel is called by the consumer when it stops reading. Pending and
// future Emit calls fail with ErrClosed.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.gone) })
}
