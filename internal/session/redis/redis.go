// Package redis provides a Redis-backed session store. Records are stored as
// JSON under "sessions:<id>" and every write is published on a per-session
// pub/sub channel, which backs Subscribe for readers in other processes.
//
// Redis pub/sub is fire-and-forget: a subscriber that joins late misses
// earlier versions and a congested subscriber may drop some. Both are within
// the subscription contract, which only promises per-subscription ordering.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/krakenlabs/kraken-relay/internal/session"
)

const defaultTTL = 24 * time.Hour

// Store implements session.Store on top of a Redis client.
type Store struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

var _ session.Store = (*Store)(nil)

// New wraps an existing Redis client. A non-positive ttl falls back to the
// 24h default.
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(id string) string     { return session.Namespace + ":" + id }
func channel(id string) string { return session.Namespace + ".events:" + id }

// Get fetches and decodes the record for id.
func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	val, err := s.client.Get(ctx, key(id)).Result()
	if err == redis.Nil {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec session.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

// Set creates or replaces the record, stamping server fields, and publishes
// the new version.
func (s *Store) Set(ctx context.Context, id string, rec *session.Record) error {
	stored := rec.Clone()
	now := time.Now().UTC()
	if prev, err := s.Get(ctx, id); err == nil {
		stored.CreatedAt = prev.CreatedAt
		stored.Version = prev.Version + 1
	} else if err == session.ErrNotFound {
		stored.CreatedAt = now
		stored.Version = 1
	} else {
		return err
	}
	stored.UpdatedAt = now
	if stored.LastDeltaTimestamp.IsZero() {
		stored.LastDeltaTimestamp = now
	}
	return s.write(ctx, id, stored)
}

// Update applies a partial update via WATCH/MULTI so concurrent writers
// cannot lose fields, then publishes the new version.
func (s *Store) Update(ctx context.Context, id string, fields session.Fields) error {
	k := key(id)
	var updated *session.Record

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, k).Result()
		if err == redis.Nil {
			return session.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec session.Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return fmt.Errorf("decode session record: %w", err)
		}

		now := time.Now().UTC()
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

		payload, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode session record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &rec
		return nil
	}, k)
	if err != nil {
		return err
	}
	return s.publish(ctx, id, updated)
}

// Subscribe delivers the current state immediately, then relays every version
// published on the session's channel.
func (s *Store) Subscribe(ctx context.Context, id string) (session.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel(id))
	// Force the SUBSCRIBE round-trip so no published version slips between
	// the initial read and the live feed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &subscription{
		pubsub: pubsub,
		ch:     make(chan session.Delivery, 64),
		done:   make(chan struct{}),
	}

	initial := session.Delivery{}
	rec, err := s.Get(ctx, id)
	switch {
	case err == nil:
		initial.Record = rec
	case err == session.ErrNotFound:
		// absent record: delivered as a nil-record snapshot
	default:
		_ = pubsub.Close()
		return nil, err
	}

	go sub.run(initial)
	return sub, nil
}

// Close releases the underlying client connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *Store) write(ctx context.Context, id string, rec *session.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.client.Set(ctx, key(id), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return s.publish(ctx, id, rec)
}

func (s *Store) publish(ctx context.Context, id string, rec *session.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	if err := s.client.Publish(ctx, channel(id), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

type subscription struct {
	pubsub *redis.PubSub
	ch     chan session.Delivery

	once sync.Once
	done chan struct{}
}

func (sub *subscription) Deliveries() <-chan session.Delivery { return sub.ch }

func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		close(sub.done)
		_ = sub.pubsub.Close()
	})
}

func (sub *subscription) run(initial session.Delivery) {
	defer close(sub.ch)
	if !sub.send(initial) {
		return
	}
	msgs := sub.pubsub.Channel()
	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var rec session.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				sub.send(session.Delivery{Err: fmt.Errorf("decode session event: %w", err)})
				return
			}
			if !sub.send(session.Delivery{Record: &rec}) {
				return
			}
		}
	}
}

func (sub *subscription) send(d session.Delivery) bool {
	select {
	case sub.ch <- d:
		return true
	case <-sub.done:
		return false
	}
}
