package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) (*Source, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return src, srv
}

func sseChunk(texts ...string) string {
	parts := make([]map[string]string, 0, len(texts))
	for _, tx := range texts {
		parts = append(parts, map[string]string{"text": tx})
	}
	payload, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": parts}},
		},
	})
	return "data: " + string(payload) + "\n\n"
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("alt"); got != "sse" {
			t.Errorf("expected alt=sse, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("He"))
		io.WriteString(w, sseChunk("llo"))
	})

	st, err := src.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	var got []string
	for {
		f, err := st.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		got = append(got, f)
	}
	if len(got) != 2 || got[0] != "He" || got[1] != "llo" {
		t.Fatalf("unexpected fragments %v", got)
	}
}

func TestStreamConcatenatesPartsWithinChunk(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("foo", "bar"))
	})
	st, err := src.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	f, err := st.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if f != "foobar" {
		t.Fatalf("expected foobar, got %q", f)
	}
}

func TestStreamHandlesOversizedChunk(t *testing.T) {
	// A single data line well past bufio.Scanner's default 64KB token limit.
	big := strings.Repeat("x", 100*1024)
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk(big))
	})
	st, err := src.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	f, err := st.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if f != big {
		t.Fatalf("oversized fragment truncated: got %d bytes, want %d", len(f), len(big))
	}
}

func TestStreamSendsPromptAsUserContent(t *testing.T) {
	var captured generateRequest
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		io.WriteString(w, sseChunk("ok"))
	})
	st, err := src.Stream(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	st.Close()

	if len(captured.Contents) != 1 || captured.Contents[0].Role != "user" {
		t.Fatalf("unexpected contents %+v", captured.Contents)
	}
	if captured.Contents[0].Parts[0].Text != "the prompt" {
		t.Fatalf("unexpected prompt %+v", captured.Contents[0].Parts)
	}
}

func TestStreamDecodesErrorEnvelope(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	})
	_, err := src.Stream(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestStreamEmptyChunkYieldsEmptyFragment(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"candidates\":[]}\n\n")
	})
	st, err := src.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	f, err := st.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if f != "" {
		t.Fatalf("expected empty fragment, got %q", f)
	}
}
