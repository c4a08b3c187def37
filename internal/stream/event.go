// Package stream carries report progress from the pipeline to the client as
// an ordered sequence of named events.
package stream

import (
	"context"
	"encoding/json"
)

// EventType names an outbound event.
type EventType string

const (
	TypeStatus   EventType = "status"
	TypeChunk    EventType = "chunk"
	TypeComplete EventType = "complete"
	TypeError    EventType = "generate_error"
)

// Error codes carried by generate_error events.
const (
	CodeInProgress = "in_progress"
	CodeFailed     = "failed"
	CodeConfig     = "config"
)

// Event is one progress event.
type Event struct {
	Type    EventType
	Message string
	Content string
	Code    string
}

func Status(message string) Event { return Event{Type: TypeStatus, Message: message} }
func Chunk(content string) Event  { return Event{Type: TypeChunk, Content: content} }
func Complete(text string) Event  { return Event{Type: TypeComplete, Message: text} }

// Error builds a generate_error event. code lets clients tell an
// in-progress rejection apart from a failure.
func Error(message, code string) Event {
	return Event{Type: TypeError, Message: message, Code: code}
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

type messagePayload struct {
	Message string `json:"message"`
}

type chunkPayload struct {
	Content string `json:"content"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// MarshalJSON encodes the event's data line: {message} for status and
// complete, {content} for chunk, {message, code} for generate_error.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeChunk:
		return json.Marshal(chunkPayload{Content: e.Content})
	case TypeError:
		return json.Marshal(errorPayload{Message: e.Message, Code: e.Code})
	default:
		return json.Marshal(messagePayload{Message: e.Message})
	}
}

// Sink receives events in emission order. Emit returns an error once the
// receiver is gone; the producer must stop emitting after that.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}
