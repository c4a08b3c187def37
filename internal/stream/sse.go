package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Serve writes the session's events to w as Server-Sent Events until the
// producer closes the session, ctx is done, or a write fails. In every case
// the session is cancelled on return, so the producer stops emitting.
//
// SSE FRAMING:
// Each event is one frame terminated by a blank line:
//
//	event: chunk
//	data: {"type":"chunk","message":"Hello"}
//
// The browser's EventSource dispatches on the "event:" line, so the type
// appears twice: once for routing and once inside the JSON for clients that
// read the raw stream. The payload is always single-line JSON; json.Marshal
// escapes newlines, so a multi-line chunk cannot break the frame.
//
// HEADER ORDER MATTERS:
// Headers go out with the first flush, before any event exists.
// X-Accel-Buffering stops nginx-style proxies from holding frames back until
// the response ends.
func Serve(ctx context.Context, w http.ResponseWriter, s *Session) error {
	defer s.Cancel()

	rc := http.NewResponseController(w)

	// Generation can outlast the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("stream: clearing write deadline: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("stream: flushing headers: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-s.Events():
			if !ok {
				return nil
			}
			if err := WriteEvent(w, e); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return fmt.Errorf("stream: flushing event: %w", err)
			}
		}
	}
}

// WriteEvent writes a single SSE frame.
func WriteEvent(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("stream: encoding %s event: %w", e.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return fmt.Errorf("stream: writing %s event: %w", e.Type, err)
	}
	return nil
}
