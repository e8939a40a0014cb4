// Package gemini implements completion.Source against the Google Gemini
// streamGenerateContent API (SSE variant).
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/krakenlabs/kraken-relay/internal/completion"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-flash"

	// maxSSELine caps one SSE data line; a chunk with large candidate parts
	// overflows bufio.Scanner's default 64KB token limit.
	maxSSELine = 1 << 20
)

// Ensure Source implements completion.Source.
var _ completion.Source = (*Source)(nil)

// Source streams completions from the Gemini API.
type Source struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Gemini source.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	Model          string // optional, defaults to gemini-1.5-flash
	RequestTimeout time.Duration
}

// New creates a Gemini source.
func New(cfg Config) (*Source, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Source{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// generateRequest is the minimal request body for generateContent.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// chunk is one streamGenerateContent SSE payload.
type chunk struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Stream opens a streaming completion for prompt.
func (s *Source) Stream(ctx context.Context, prompt string) (completion.Stream, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	// URL shape: /v1beta/models/{model}:streamGenerateContent?alt=sse
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse", s.baseURL, s.model, s.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, decodeAPIError(resp.StatusCode, respBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELine)
	return &stream{
		body:    resp.Body,
		scanner: scanner,
	}, nil
}

// decodeAPIError unwraps the Gemini error envelope when present.
func decodeAPIError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("gemini: %s (code=%d, status=%s)", errResp.Error.Message, errResp.Error.Code, errResp.Error.Status)
	}
	return fmt.Errorf("gemini: stream http %d: %s", status, string(body))
}

type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Recv reads SSE lines until the next data event and returns the
// concatenated text of its candidate parts. An event with no text yields an
// empty fragment; the caller decides whether to skip it.
func (st *stream) Recv() (string, error) {
	if st.done {
		return "", io.EOF
	}
	for st.scanner.Scan() {
		line := strings.TrimSpace(st.scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var c chunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			st.done = true
			return "", fmt.Errorf("gemini: decode stream chunk: %w", err)
		}
		var sb strings.Builder
		if len(c.Candidates) > 0 {
			for _, p := range c.Candidates[0].Content.Parts {
				sb.WriteString(p.Text)
			}
		}
		return sb.String(), nil
	}
	st.done = true
	if err := st.scanner.Err(); err != nil {
		return "", fmt.Errorf("gemini: read stream: %w", err)
	}
	return "", io.EOF
}

func (st *stream) Close() error {
	st.done = true
	return st.body.Close()
}
