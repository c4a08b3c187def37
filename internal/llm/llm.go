// Package llm is the generative text engine: given a prompt it yields the
// completion as a sequence of text fragments.
package llm

import (
	"context"
)

// Engine starts streaming completions.
type Engine interface {
	// Stream sends prompt and returns the fragment stream. The caller must
	// Close the stream, even if it stops reading early.
	Stream(ctx context.Context, prompt string) (FragmentStream, error)
}

// FragmentStream yields fragments in order. Next returns io.EOF once the
// completion is finished. Fragments may be empty.
type FragmentStream interface {
	Next() (string, error)
	Close() error
}
