// Package loopback provides a deterministic completion source that echoes
// the prompt back word by word. It exists so the relay pipeline can run
// without provider credentials, in local setups and in tests.
package loopback

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/krakenlabs/kraken-relay/internal/completion"
)

// Ensure Source implements completion.Source.
var _ completion.Source = (*Source)(nil)

// Source fabricates completions locally.
type Source struct {
	// Fragments, when non-nil, is returned verbatim for every prompt instead
	// of the echoed reply. Test hook.
	Fragments []string
	// Err, when set, fails the stream after all fragments were delivered.
	Err error
}

// New creates a loopback source.
func New() *Source {
	return &Source{}
}

// Stream fabricates a fragment sequence for prompt.
func (s *Source) Stream(ctx context.Context, prompt string) (completion.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fragments := s.Fragments
	if fragments == nil {
		fragments = echoFragments(prompt)
	}
	return &stream{ctx: ctx, fragments: fragments, err: s.Err}, nil
}

// echoFragments splits the canned reply into word-sized fragments, each
// carrying its trailing space, so relays observe realistic partial text.
func echoFragments(prompt string) []string {
	reply := "[loopback] " + strings.TrimSpace(prompt)
	words := strings.Fields(reply)
	fragments := make([]string, 0, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		fragments = append(fragments, w)
	}
	return fragments
}

type stream struct {
	ctx       context.Context
	mu        sync.Mutex
	fragments []string
	next      int
	err       error
	closed    bool
}

func (st *stream) Recv() (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return "", io.EOF
	}
	if err := st.ctx.Err(); err != nil {
		return "", err
	}
	if st.next >= len(st.fragments) {
		if st.err != nil {
			return "", st.err
		}
		return "", io.EOF
	}
	f := st.fragments[st.next]
	st.next++
	return f, nil
}

func (st *stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	return nil
}
