// Package completion defines the boundary to a generative-language provider:
// a prompt in, a lazy ordered sequence of text fragments out.
package completion

import "context"

// Source opens fragment streams against a model provider.
type Source interface {
	// Stream starts a completion for prompt. Fragment boundaries are the
	// provider's choice; no granularity may be assumed, and fragments may be
	// empty (callers skip those).
	Stream(ctx context.Context, prompt string) (Stream, error)
}

// Stream is one in-flight completion. Recv blocks for the next fragment and
// returns io.EOF at natural end-of-stream; any other error is a mid-stream
// failure and terminates the stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}
