package loopback

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func drain(t *testing.T, st interface {
	Recv() (string, error)
}) []string {
	t.Helper()
	var out []string
	for {
		f, err := st.Recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		out = append(out, f)
	}
}

func TestStreamEchoesPromptWordByWord(t *testing.T) {
	src := New()
	st, err := src.Stream(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	fragments := drain(t, st)
	joined := strings.Join(fragments, "")
	if joined != "[loopback] hello there" {
		t.Fatalf("unexpected reply %q (fragments %v)", joined, fragments)
	}
	if len(fragments) != 3 {
		t.Fatalf("expected 3 word fragments, got %d: %v", len(fragments), fragments)
	}
}

func TestStreamCannedFragments(t *testing.T) {
	src := &Source{Fragments: []string{"He", "llo"}}
	st, err := src.Stream(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := drain(t, st)
	if len(got) != 2 || got[0] != "He" || got[1] != "llo" {
		t.Fatalf("unexpected fragments %v", got)
	}
}

func TestStreamMidstreamFailure(t *testing.T) {
	boom := errors.New("upstream exploded")
	src := &Source{Fragments: []string{"partial "}, Err: boom}
	st, _ := src.Stream(context.Background(), "x")

	if f, err := st.Recv(); err != nil || f != "partial " {
		t.Fatalf("first recv: %q %v", f, err)
	}
	if _, err := st.Recv(); !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestStreamClosedReturnsEOF(t *testing.T) {
	src := New()
	st, _ := src.Stream(context.Background(), "hi")
	_ = st.Close()
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestStreamCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := New()
	st, err := src.Stream(ctx, "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	cancel()
	if _, err := st.Recv(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
