// Package memory provides an in-process session store with per-session
// subscription fan-out. It is the default backend for single-node deployments
// and the store used throughout the test suites.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/krakenlabs/kraken-relay/internal/session"
)

// deliveryBuffer bounds how many undrained versions a slow subscriber may
// hold. When the buffer is full the oldest pending delivery is dropped, which
// mirrors a document store coalescing versions under load; readers are
// required to tolerate skipped intermediate versions.
const deliveryBuffer = 64

// Store implements session.Store backed by a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	records map[string]*session.Record
	subs    map[string][]*subscription
	closed  bool

	// now is swappable so tests can control server timestamps.
	now func() time.Time
}

var _ session.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]*session.Record),
		subs:    make(map[string][]*subscription),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock. Test hook; nil keeps the current clock.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Get returns a copy of the record for id, or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, session.ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return rec.Clone(), nil
}

// Set creates or replaces the record for id, stamping CreatedAt (on create),
// UpdatedAt and Version, and fans the new version out to subscribers.
func (s *Store) Set(ctx context.Context, id string, rec *session.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}

	stored := rec.Clone()
	now := s.now()
	if prev, ok := s.records[id]; ok {
		stored.CreatedAt = prev.CreatedAt
		stored.Version = prev.Version + 1
	} else {
		stored.CreatedAt = now
		stored.Version = 1
	}
	stored.UpdatedAt = now
	if stored.LastDeltaTimestamp.IsZero() {
		stored.LastDeltaTimestamp = now
	}
	s.records[id] = stored
	s.publishLocked(id, stored)
	return nil
}

// Update applies a partial update to an existing record. Only the fields
// named in fields change; UpdatedAt and Version always advance, and a new
// delta gets a fresh server timestamp.
func (s *Store) Update(ctx context.Context, id string, fields session.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return session.ErrNotFound
	}

	now := s.now()
	if fields.Blackboard != nil {
		rec.Blackboard = fields.Blackboard
	}
	if fields.Delta != nil {
		rec.LastDelta = *fields.Delta
		rec.LastDeltaTimestamp = now
	}
	if fields.Status != nil {
		rec.Status = *fields.Status
	}
	rec.UpdatedAt = now
	rec.Version++
	s.publishLocked(id, rec)
	return nil
}

// Subscribe opens a version feed for id. The current state (or a nil record
// when the session does not exist) is delivered immediately.
func (s *Store) Subscribe(ctx context.Context, id string) (session.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, session.ErrClosed
	}

	sub := &subscription{
		store: s,
		id:    id,
		ch:    make(chan session.Delivery, deliveryBuffer),
	}
	s.subs[id] = append(s.subs[id], sub)

	if rec, ok := s.records[id]; ok {
		sub.push(session.Delivery{Record: rec.Clone()})
	} else {
		sub.push(session.Delivery{Record: nil})
	}
	return sub, nil
}

// Close tears down every subscription and rejects further operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
	}
	s.subs = make(map[string][]*subscription)
	return nil
}

func (s *Store) publishLocked(id string, rec *session.Record) {
	for _, sub := range s.subs[id] {
		sub.push(session.Delivery{Record: rec.Clone()})
	}
}

func (s *Store) unsubscribe(target *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[target.id]
	for i, sub := range subs {
		if sub == target {
			s.subs[target.id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	target.closeLocked()
}

type subscription struct {
	store *Store
	id    string

	subMu  sync.Mutex
	ch     chan session.Delivery
	closed bool
}

func (sub *subscription) Deliveries() <-chan session.Delivery {
	return sub.ch
}

func (sub *subscription) Unsubscribe() {
	sub.store.unsubscribe(sub)
}

// push enqueues a delivery, dropping the oldest pending one when the buffer
// is full so a stalled reader cannot block the writer. Per-subscription order
// is preserved either way.
func (sub *subscription) push(d session.Delivery) {
	sub.subMu.Lock()
	defer sub.subMu.Unlock()
	if sub.closed {
		return
	}
	for {
		select {
		case sub.ch <- d:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

func (sub *subscription) closeLocked() {
	sub.subMu.Lock()
	defer sub.subMu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
