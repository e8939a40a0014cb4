package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenlabs/kraken-relay/internal/session"
)

// newWatchClient serves mux on an IPv4 loopback listener and returns a viewer
// client pointed at it. The listener is tcp4 so the test behaves the same on
// hosts whose localhost resolves to ::1 first.
func newWatchClient(t *testing.T, mux http.Handler) *Client {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: ipv4 loopback unavailable (%v)", err)
	}
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(l) }()

	transport := &http.Transport{}
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		transport.CloseIdleConnections()
	})

	c := NewClient("http://" + l.Addr().String())
	c.SetHTTPClient(&http.Client{Transport: transport})
	return c
}

func sseHandler(t *testing.T, events []Event) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i, ev := range events {
			if i == 1 {
				// Keepalive comments must be invisible to the client.
				fmt.Fprint(w, ": ping\n\n")
			}
			payload, err := json.Marshal(ev)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func record(delta string) *session.Record {
	return &session.Record{
		OrganizationID: "org-1",
		LastDelta:      delta,
		Status:         session.StatusActive,
	}
}

func TestWatchDeliversEventsInOrder(t *testing.T) {
	want := []Event{
		{NotFound: true},
		{Record: record("He")},
		{Record: record("llo")},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions/sess-1/watch", sseHandler(t, want))
	client := newWatchClient(t, mux)

	events, err := client.Watch(context.Background(), "sess-1")
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, len(want))
	assert.True(t, got[0].NotFound)
	assert.Equal(t, "He", got[1].Record.LastDelta)
	assert.Equal(t, "llo", got[2].Record.LastDelta)
}

func TestWatchRejectsNon200(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	})
	client := newWatchClient(t, mux)

	_, err := client.Watch(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestWatchSurfacesMalformedPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions/sess-1/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json\n\n")
	})
	client := newWatchClient(t, mux)

	events, err := client.Watch(context.Background(), "sess-1")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Contains(t, ev.Error, "malformed watch event")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	blocked := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions/sess-1/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(blocked)
	})
	client := newWatchClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.Watch(ctx, "sess-1")
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-events:
		assert.False(t, open, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("server handler never observed the disconnect")
	}
}

func TestSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record("llo"))
	})
	client := newWatchClient(t, mux)

	rec, err := client.Snapshot(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "llo", rec.LastDelta)

	_, err = client.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
