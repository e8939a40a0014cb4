// Package session defines the session record shared between the tick write
// path and viewer subscriptions, together with the store contract that keeps
// the two sides decoupled. The record is the only coordination point: the
// writer overwrites the single LastDelta slot on every fragment and readers
// reconstruct the transcript from the sequence of observed versions.
package session

import (
	"context"
	"errors"
	"time"
)

// Namespace is the logical key prefix all stores file session records under.
const Namespace = "sessions"

// Status describes the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var (
	// ErrNotFound is returned by Get/Update when no record exists for the id.
	ErrNotFound = errors.New("session: not found")
	// ErrClosed is returned by store operations after Close.
	ErrClosed = errors.New("session: store closed")
)

// Record is one session document keyed by an opaque session id.
//
// LastDelta holds only the most recent fragment emitted by the completion
// stream, never the accumulated response; the full text exists only as the
// readers' reconstruction and, after a completed tick, in
// Blackboard["lastResponse"]. Status stays "active" after a completed stream:
// there is no terminal done marker, which is a known correctness gap. Version
// increases by one on every write so readers can at least detect skipped
// deliveries.
type Record struct {
	OrganizationID     string         `json:"organizationId"`
	UserID             string         `json:"userId"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	Blackboard         map[string]any `json:"blackboard"`
	LastDelta          string         `json:"lastDelta"`
	LastDeltaTimestamp time.Time      `json:"lastDeltaTimestamp"`
	Status             Status         `json:"status"`
	Version            int64          `json:"version"`
}

// Clone returns a copy safe to hand to subscribers. The blackboard map is
// copied one level deep; values are shared, matching the shallow-merge
// semantics everywhere else.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Blackboard != nil {
		cp.Blackboard = make(map[string]any, len(r.Blackboard))
		for k, v := range r.Blackboard {
			cp.Blackboard[k] = v
		}
	}
	return &cp
}

// Fields names the top-level record fields a partial update may set. Nil
// pointers (and a nil Blackboard) leave the stored value untouched.
//
// Blackboard replaces the stored map wholesale; there is no server-side deep
// merge, so callers must have read the current blackboard and merged into it
// before updating. When Delta is set the store stamps LastDeltaTimestamp with
// its own clock, pairing the fragment with a server-assigned timestamp.
type Fields struct {
	Blackboard map[string]any
	Delta      *string
	Status     *Status
}

// Delivery is one observed version of a session record, pushed to a
// subscriber. Record is nil when the session does not exist (never created,
// or removed out-of-band). Err is terminal for the subscription.
type Delivery struct {
	Record *Record
	Err    error
}

// Subscription is a live feed of record versions for a single session.
// Deliveries for one subscription arrive in observation order; under load a
// store may coalesce versions, but it never reorders them.
type Subscription interface {
	// Deliveries returns the channel the store pushes observed versions on.
	// The channel is closed after Unsubscribe or a terminal error delivery.
	Deliveries() <-chan Delivery
	// Unsubscribe tears the feed down. No deliveries fire afterwards.
	Unsubscribe()
}

// Store is the keyed document store holding one record per session.
//
// Set and Update refresh UpdatedAt and increment Version with the store's
// clock; the write path never supplies timestamps of its own. Subscribe
// delivers the current state (or its absence) immediately and every
// subsequent observed version after that.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Set(ctx context.Context, id string, rec *Record) error
	Update(ctx context.Context, id string, fields Fields) error
	Subscribe(ctx context.Context, id string) (Subscription, error)
	Close() error
}

// MergeBlackboard shallow-merges extra into base and returns the result.
// Keys in extra overwrite keys in base; neither input map is mutated.
func MergeBlackboard(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
