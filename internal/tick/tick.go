// Package tick implements the write path: one tick validates the request,
// establishes the session record, augments the prompt with the shared
// blackboard, drives the completion stream, and relays each fragment into
// the record's single latest-fragment slot where subscribed viewers pick it
// up.
package tick

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/krakenlabs/kraken-relay/internal/completion"
	"github.com/krakenlabs/kraken-relay/internal/ledger"
	"github.com/krakenlabs/kraken-relay/internal/metrics"
	"github.com/krakenlabs/kraken-relay/internal/session"
)

// Request is one tick invocation.
type Request struct {
	SessionID      string         `json:"sessionId"`
	Prompt         string         `json:"prompt"`
	OrganizationID string         `json:"organizationId"`
	UserID         string         `json:"userId"`
	Context        map[string]any `json:"context,omitempty"`
}

// Result is the success payload of a tick.
type Result struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// Processor drives ticks against a session store and a completion source.
//
// Concurrent ticks against the same session are not coordinated: last write
// wins on the blackboard and their fragment writes may interleave. Known
// limitation, accepted by design.
type Processor struct {
	store   session.Store
	source  completion.Source
	ledger  ledger.Store       // optional
	metrics *metrics.Collector // optional
	logger  *log.Logger
}

// New creates a Processor over the given store and completion source.
func New(store session.Store, source completion.Source) *Processor {
	return &Processor{
		store:  store,
		source: source,
		logger: log.New(log.Writer(), "[relay/tick] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (p *Processor) SetLogger(logger *log.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetLedger enables tick history recording; nil disables it.
func (p *Processor) SetLedger(store ledger.Store) {
	p.ledger = store
}

// SetMetrics enables counter collection; nil disables it.
func (p *Processor) SetMetrics(collector *metrics.Collector) {
	p.metrics = collector
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Process runs one tick to completion or failure.
//
// On failure after validation it best-effort marks the session status as
// error (that write's own failure is only logged) and returns the triggering
// error; fragments already written stay visible to viewers.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	tickID := uuid.New().String()

	if err := validate(req); err != nil {
		return Result{}, err
	}
	if p.metrics != nil {
		p.metrics.TickStarted()
	}
	p.logf("tick start id=%s session=%s org=%s user=%s prompt_len=%d",
		tickID, req.SessionID, req.OrganizationID, req.UserID, len(req.Prompt))

	fragments, bytes, err := p.run(ctx, req)
	duration := time.Since(start)
	if err != nil {
		p.logf("tick error id=%s session=%s: %v", tickID, req.SessionID, err)
		// Tenant mismatches must leave the record untouched; everything else
		// gets the best-effort error mark.
		var authErr *AuthorizationError
		if !errors.As(err, &authErr) {
			p.markError(req.SessionID)
		}
		p.finish(ctx, tickID, req, fragments, bytes, duration, err)
		return Result{}, err
	}

	p.logf("tick completed id=%s session=%s fragments=%d bytes=%d total_ms=%d",
		tickID, req.SessionID, fragments, bytes, duration.Milliseconds())
	p.finish(ctx, tickID, req, fragments, bytes, duration, nil)
	return Result{SessionID: req.SessionID, Message: "Streaming completed successfully"}, nil
}

func validate(req Request) error {
	var missing []string
	if req.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if req.Prompt == "" {
		missing = append(missing, "prompt")
	}
	if req.OrganizationID == "" {
		missing = append(missing, "organizationId")
	}
	if req.UserID == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// run executes steps 2-7: ensure session, augment prompt, relay fragments,
// merge the final response. Returns fragment and byte counts for accounting.
func (p *Processor) run(ctx context.Context, req Request) (fragments, bytes int64, err error) {
	if err := p.ensureSession(ctx, req); err != nil {
		return 0, 0, err
	}

	// Re-read so the prompt sees the blackboard as just merged.
	current, err := p.store.Get(ctx, req.SessionID)
	if err != nil {
		return 0, 0, err
	}
	blackboard := current.Blackboard
	if blackboard == nil {
		blackboard = map[string]any{}
	}

	contextual := BuildContextualPrompt(req.Prompt, blackboard)
	stream, err := p.source.Stream(ctx, contextual)
	if err != nil {
		return 0, 0, err
	}
	defer stream.Close()

	var accumulated []byte
	for {
		fragment, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			return fragments, bytes, recvErr
		}
		// Zero-length fragments carry nothing for readers; skip the write.
		if fragment == "" {
			continue
		}

		accumulated = append(accumulated, fragment...)
		writeStart := time.Now()
		// One in-flight update at a time: the next fragment is not requested
		// until this write is acknowledged, so readers observe fragments in
		// delivery order.
		if err := p.store.Update(ctx, req.SessionID, session.Fields{Delta: &fragment}); err != nil {
			return fragments, bytes, err
		}
		fragments++
		bytes += int64(len(fragment))
		if p.metrics != nil {
			p.metrics.FragmentWritten(len(fragment), time.Since(writeStart))
		}
		p.logf("fragment relayed session=%s n=%d len=%d", req.SessionID, fragments, len(fragment))
	}

	// Merge the full response into the blackboard. No terminal done marker is
	// written: status stays active after completion (known gap, see the
	// session package docs).
	merged := session.MergeBlackboard(blackboard, map[string]any{
		keyLastResponse: string(accumulated),
		keyLastPrompt:   req.Prompt,
	})
	active := session.StatusActive
	if err := p.store.Update(ctx, req.SessionID, session.Fields{Blackboard: merged, Status: &active}); err != nil {
		return fragments, bytes, err
	}
	return fragments, bytes, nil
}

// ensureSession creates the record on first tick, or checks tenancy and
// merges extra context on subsequent ones. The organization check runs before
// any further processing.
func (p *Processor) ensureSession(ctx context.Context, req Request) error {
	existing, err := p.store.Get(ctx, req.SessionID)
	if err == session.ErrNotFound {
		return p.store.Set(ctx, req.SessionID, &session.Record{
			OrganizationID: req.OrganizationID,
			UserID:         req.UserID,
			Blackboard:     initialBlackboard(req.Context),
			LastDelta:      "",
			Status:         session.StatusActive,
		})
	}
	if err != nil {
		return err
	}
	if existing.OrganizationID != req.OrganizationID {
		return &AuthorizationError{SessionID: req.SessionID}
	}
	if req.Context != nil {
		merged := session.MergeBlackboard(existing.Blackboard, req.Context)
		if err := p.store.Update(ctx, req.SessionID, session.Fields{Blackboard: merged}); err != nil {
			return err
		}
	}
	return nil
}

func initialBlackboard(extra map[string]any) map[string]any {
	if extra == nil {
		return map[string]any{}
	}
	return session.MergeBlackboard(nil, extra)
}

// markError best-effort flags the session record; its own failure is logged
// and swallowed. Uses a fresh context so a cancelled tick can still leave the
// error mark behind.
func (p *Processor) markError(sessionID string) {
	if sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errStatus := session.StatusError
	if err := p.store.Update(ctx, sessionID, session.Fields{Status: &errStatus}); err != nil {
		p.logf("failed to update session status session=%s: %v", sessionID, err)
	}
}

func (p *Processor) finish(ctx context.Context, tickID string, req Request, fragments, bytes int64, duration time.Duration, tickErr error) {
	outcome := ledger.OutcomeCompleted
	label := "completed"
	detail := ""
	if tickErr != nil {
		outcome = ledger.OutcomeError
		label = "error"
		detail = tickErr.Error()
	}
	if p.metrics != nil {
		p.metrics.TickFinished(label, duration)
	}
	if p.ledger == nil {
		return
	}
	entry := ledger.Entry{
		TickID:         tickID,
		SessionID:      req.SessionID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		Fragments:      fragments,
		Bytes:          bytes,
		DurationMS:     duration.Milliseconds(),
		Outcome:        outcome,
		Detail:         detail,
	}
	if err := p.ledger.Record(ctx, entry); err != nil {
		p.logf("ledger record failed id=%s: %v", tickID, err)
	}
}
