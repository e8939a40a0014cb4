package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/krakenlabs/kraken-relay/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ticks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []ledger.Entry{
		{TickID: "t1", SessionID: "s1", OrganizationID: "o1", UserID: "u1", Fragments: 2, Bytes: 5, DurationMS: 40, Outcome: ledger.OutcomeCompleted},
		{TickID: "t2", SessionID: "s1", OrganizationID: "o1", UserID: "u1", Fragments: 0, Bytes: 0, DurationMS: 3, Outcome: ledger.OutcomeError, Detail: "upstream failed"},
		{TickID: "t3", SessionID: "s2", OrganizationID: "o2", UserID: "u2", Fragments: 7, Bytes: 99, DurationMS: 120, Outcome: ledger.OutcomeCompleted},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.TickID, err)
		}
	}

	got, err := s.ListRecent(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for s1, got %d", len(got))
	}
	if got[0].TickID != "t2" || got[1].TickID != "t1" {
		t.Fatalf("expected newest first, got %s then %s", got[0].TickID, got[1].TickID)
	}
	if got[0].Detail != "upstream failed" {
		t.Fatalf("expected detail preserved, got %q", got[0].Detail)
	}
}

func TestRecordValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, ledger.Entry{Outcome: ledger.OutcomeCompleted}); err == nil {
		t.Fatal("expected error for missing session id")
	}
	if err := s.Record(ctx, ledger.Entry{SessionID: "s1", Outcome: "weird"}); err == nil {
		t.Fatal("expected error for invalid outcome")
	}
}

func TestSummaryByOrganization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []ledger.Entry{
		{TickID: "t1", SessionID: "s1", OrganizationID: "o1", UserID: "u1", Fragments: 2, Bytes: 5, Outcome: ledger.OutcomeCompleted},
		{TickID: "t2", SessionID: "s3", OrganizationID: "o1", UserID: "u1", Fragments: 3, Bytes: 10, Outcome: ledger.OutcomeCompleted},
		{TickID: "t3", SessionID: "s2", OrganizationID: "o2", UserID: "u2", Fragments: 100, Bytes: 999, Outcome: ledger.OutcomeCompleted},
	} {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, "o1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Ticks != 2 || sum.Fragments != 5 || sum.Bytes != 15 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
