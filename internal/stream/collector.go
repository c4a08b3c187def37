package stream

import (
	"context"
	"sync"
)

// Collector is a Sink that records events, for callers that want a single
// response instead of a stream.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

// Events returns a copy of everything emitted so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Result returns the terminal event, if one was emitted.
func (c *Collector) Result() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Terminal() {
			return c.events[i], true
		}
	}
	return Event{}, false
}
