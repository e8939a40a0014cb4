// Package transcript rebuilds the full streamed response on the read side.
// Writers publish only the latest fragment on the session record; an
// Accumulator consumes record versions in delivery order and appends each new
// fragment exactly once, so duplicate deliveries of the same version never
// double text.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/krakenlabs/kraken-relay/internal/session"
)

// ErrSessionNotFound is returned when a delivery reports that the session
// does not exist. The accumulator is terminal after it.
var ErrSessionNotFound = errors.New("transcript: session not found")

// ErrWrongOrganization is returned when the delivered record belongs to a
// different organization than the accumulator was opened for. Terminal.
var ErrWrongOrganization = errors.New("transcript: session belongs to another organization")

// Strategy selects how the accumulator decides whether the fragment on an
// incoming record version is new or a redelivery of one it already appended.
type Strategy int

const (
	// StrategyTimestamp appends a fragment when its server timestamp is
	// strictly later than the last appended one; equal timestamps count as
	// redeliveries and stale out-of-order versions are dropped. This is the
	// default: it stays correct when consecutive fragments carry identical
	// text.
	StrategyTimestamp Strategy = iota
	// StrategySuffix appends a fragment unless the transcript already ends
	// with it. Usable against stores that do not expose fragment timestamps;
	// it drops a genuine repeat like "la" "la".
	StrategySuffix
)

func (s Strategy) String() string {
	switch s {
	case StrategyTimestamp:
		return "timestamp"
	case StrategySuffix:
		return "suffix"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Accumulator folds session record versions into a transcript. It is not safe
// for concurrent use; feed it from a single delivery loop.
type Accumulator struct {
	strategy       Strategy
	organizationID string

	text     strings.Builder
	lastSeen time.Time
	seenAny  bool
	status   session.Status
	failed   error
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithStrategy selects the dedup strategy. An accumulator never mixes
// strategies over its lifetime.
func WithStrategy(s Strategy) Option {
	return func(a *Accumulator) { a.strategy = s }
}

// WithOrganization makes the accumulator reject records owned by any other
// organization.
func WithOrganization(id string) Option {
	return func(a *Accumulator) { a.organizationID = id }
}

// New creates an Accumulator with an empty transcript.
func New(opts ...Option) *Accumulator {
	a := &Accumulator{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply folds one delivery into the transcript and returns the transcript
// text after it. Errors from Apply are terminal: every later call returns the
// same error and the transcript stops growing.
func (a *Accumulator) Apply(d session.Delivery) (string, error) {
	if a.failed != nil {
		return a.text.String(), a.failed
	}
	if d.Err != nil {
		return a.fail(d.Err)
	}
	if d.Record == nil {
		return a.fail(ErrSessionNotFound)
	}
	rec := d.Record
	if a.organizationID != "" && rec.OrganizationID != a.organizationID {
		return a.fail(fmt.Errorf("%w: session %s", ErrWrongOrganization, rec.OrganizationID))
	}

	a.status = rec.Status
	if rec.LastDelta != "" && a.isNew(rec) {
		a.text.WriteString(rec.LastDelta)
		a.lastSeen = rec.LastDeltaTimestamp
		a.seenAny = true
	}
	return a.text.String(), nil
}

// isNew reports whether the record carries a fragment not yet appended.
func (a *Accumulator) isNew(rec *session.Record) bool {
	switch a.strategy {
	case StrategySuffix:
		return !strings.HasSuffix(a.text.String(), rec.LastDelta)
	default:
		return !a.seenAny || rec.LastDeltaTimestamp.After(a.lastSeen)
	}
}

func (a *Accumulator) fail(err error) (string, error) {
	a.failed = err
	return a.text.String(), err
}

// Text returns the transcript accumulated so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Status returns the session status from the last applied record, or the
// empty status before any record arrived.
func (a *Accumulator) Status() session.Status {
	return a.status
}

// Err returns the terminal error, if Apply has failed.
func (a *Accumulator) Err() error {
	return a.failed
}

// Reset clears the transcript and terminal state so the accumulator can
// replay a session from its first version. The strategy and organization
// binding are kept.
func (a *Accumulator) Reset() {
	a.text.Reset()
	a.lastSeen = time.Time{}
	a.seenAny = false
	a.status = ""
	a.failed = nil
}
