// Package viewer implements the terminal viewer: a client for the relay's
// watch feed and a TUI that renders the live transcript while it streams.
package viewer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/krakenlabs/kraken-relay/internal/session"
)

// Event is one message from the watch feed. Exactly one field is populated.
type Event struct {
	Record   *session.Record `json:"record,omitempty"`
	NotFound bool            `json:"notFound,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Client consumes a relay's session watch feed over SSE.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the relay at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Watch streams are long-lived; no client-side deadline.
		http: &http.Client{Timeout: 0},
	}
}

// SetHTTPClient overrides the underlying HTTP client; nil keeps the current one.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.http = hc
	}
}

// Watch opens the SSE feed for sessionID. Events arrive on the returned
// channel in feed order; the channel closes when the server ends the stream,
// the connection drops, or ctx is cancelled. Keepalive comments are filtered
// out.
func (c *Client) Watch(ctx context.Context, sessionID string) (<-chan Event, error) {
	url := fmt.Sprintf("%s/api/v1/sessions/%s/watch", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("watch %s: status %d: %s", sessionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	events := make(chan Event, 16)
	go c.relay(resp.Body, events)
	return events, nil
}

func (c *Client) relay(body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Blank separators and ": ping" keepalives.
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			events <- Event{Error: fmt.Sprintf("malformed watch event: %v", err)}
			return
		}
		events <- ev
	}
	if err := scanner.Err(); err != nil && !isClosedErr(err) {
		events <- Event{Error: err.Error()}
	}
}

func isClosedErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "context canceled") || strings.Contains(msg, "use of closed network connection")
}

// Snapshot fetches the current session record once.
func (c *Client) Snapshot(ctx context.Context, sessionID string) (*session.Record, error) {
	url := fmt.Sprintf("%s/api/v1/sessions/%s", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	hc := c.http
	if hc.Timeout == 0 {
		snap := *hc
		snap.Timeout = 10 * time.Second
		hc = &snap
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, session.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot %s: status %d", sessionID, resp.StatusCode)
	}
	var rec session.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
