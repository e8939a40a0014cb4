package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"database/sql"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/krakenlabs/kraken-relay/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tick_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	fragments INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','error')),
	detail TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tick_entries_session_created ON tick_entries(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tick_entries_org ON tick_entries(organization_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new tick entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.SessionID == "" {
		return errors.New("ledger record requires session id")
	}
	if entry.Outcome != ledger.OutcomeCompleted && entry.Outcome != ledger.OutcomeError {
		return fmt.Errorf("invalid outcome %q", entry.Outcome)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tick_entries(tick_id, session_id, organization_id, user_id, fragments, bytes, duration_ms, outcome, detail, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TickID,
		entry.SessionID,
		entry.OrganizationID,
		entry.UserID,
		entry.Fragments,
		entry.Bytes,
		entry.DurationMS,
		string(entry.Outcome),
		entry.Detail,
		created,
	)
	if err != nil {
		return fmt.Errorf("insert tick entry: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries for a session, newest first.
func (s *Store) ListRecent(ctx context.Context, sessionID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tick_id, session_id, organization_id, user_id, fragments, bytes, duration_ms, outcome, detail, created_at
FROM tick_entries
WHERE session_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tick entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var outcome string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.TickID, &e.SessionID, &e.OrganizationID, &e.UserID, &e.Fragments, &e.Bytes, &e.DurationMS, &outcome, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tick entry: %w", err)
		}
		e.Outcome = ledger.Outcome(outcome)
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates completed tick activity for an organization.
func (s *Store) Summary(ctx context.Context, organizationID string) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(fragments), 0), COALESCE(SUM(bytes), 0)
FROM tick_entries
WHERE organization_id = ?`, organizationID)

	var sum ledger.Summary
	if err := row.Scan(&sum.Ticks, &sum.Fragments, &sum.Bytes); err != nil {
		return ledger.Summary{}, fmt.Errorf("scan summary: %w", err)
	}
	return sum, nil
}
