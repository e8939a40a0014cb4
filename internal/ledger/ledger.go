// Package ledger records one row per processed tick: which session it ran
// against, how many fragments were relayed, and how it ended. The session
// record itself only ever holds the latest fragment, so the ledger is the
// only durable trace of past ticks.
package ledger

import (
	"context"
	"time"
)

// Outcome is the terminal state of a tick.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
)

// Entry represents a single tick written to the ledger.
type Entry struct {
	ID             int64     `json:"id"`
	TickID         string    `json:"tick_id"`
	SessionID      string    `json:"session_id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Fragments      int64     `json:"fragments"`
	Bytes          int64     `json:"bytes"`
	DurationMS     int64     `json:"duration_ms"`
	Outcome        Outcome   `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates tick activity for an organization.
type Summary struct {
	Ticks     int64 `json:"ticks"`
	Fragments int64 `json:"fragments"`
	Bytes     int64 `json:"bytes"`
}

// Store defines persistence behaviour for the tick ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Summary(ctx context.Context, organizationID string) (Summary, error)
	Close() error
}
