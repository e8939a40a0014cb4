package tick

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/krakenlabs/kraken-relay/internal/completion"
	"github.com/krakenlabs/kraken-relay/internal/completion/loopback"
	"github.com/krakenlabs/kraken-relay/internal/session"
	"github.com/krakenlabs/kraken-relay/internal/session/memory"
)

func newProcessor(t *testing.T, src *loopback.Source) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	p := New(store, src)
	p.SetLogger(log.New(io.Discard, "", 0))
	return p, store
}

func validRequest() Request {
	return Request{
		SessionID:      "sess-1",
		Prompt:         "hi",
		OrganizationID: "org-1",
		UserID:         "user-1",
	}
}

func TestProcessRejectsMissingFields(t *testing.T) {
	p, _ := newProcessor(t, loopback.New())

	_, err := p.Process(context.Background(), Request{Prompt: "hi", UserID: "u"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"sessionId", "organizationId"}
	if !reflect.DeepEqual(verr.Missing, want) {
		t.Fatalf("missing fields = %v, want %v", verr.Missing, want)
	}
}

func TestProcessValidationDoesNotTouchStore(t *testing.T) {
	p, store := newProcessor(t, loopback.New())

	_, err := p.Process(context.Background(), Request{SessionID: "sess-1"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := store.Get(context.Background(), "sess-1"); err != session.ErrNotFound {
		t.Fatalf("validation failure must not create a record, got %v", err)
	}
}

func TestProcessCreatesSessionAndRelaysFragments(t *testing.T) {
	src := &loopback.Source{Fragments: []string{"He", "llo"}}
	p, store := newProcessor(t, src)

	sub, err := store.Subscribe(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	// Drain the initial not-yet-created snapshot.
	if d := <-sub.Deliveries(); d.Record != nil {
		t.Fatalf("expected nil initial record, got %+v", d.Record)
	}

	res, err := p.Process(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != "sess-1" || res.Message != "Streaming completed successfully" {
		t.Fatalf("unexpected result %+v", res)
	}

	// Creation, two fragments, final merge: four versions in order.
	wantDeltas := []string{"", "He", "llo", "llo"}
	var got []*session.Record
	for range wantDeltas {
		d := <-sub.Deliveries()
		if d.Err != nil {
			t.Fatal(d.Err)
		}
		got = append(got, d.Record)
	}
	for i, rec := range got {
		if rec.LastDelta != wantDeltas[i] {
			t.Fatalf("delivery %d: LastDelta = %q, want %q", i, rec.LastDelta, wantDeltas[i])
		}
		if rec.Version != int64(i+1) {
			t.Fatalf("delivery %d: Version = %d, want %d", i, rec.Version, i+1)
		}
	}

	final := got[len(got)-1]
	if final.Blackboard["lastResponse"] != "Hello" {
		t.Fatalf("lastResponse = %v, want Hello", final.Blackboard["lastResponse"])
	}
	if final.Blackboard["lastPrompt"] != "hi" {
		t.Fatalf("lastPrompt = %v, want hi", final.Blackboard["lastPrompt"])
	}
	if final.Status != session.StatusActive {
		t.Fatalf("status = %q, want %q", final.Status, session.StatusActive)
	}
	if final.OrganizationID != "org-1" || final.UserID != "user-1" {
		t.Fatalf("ownership not stamped: %+v", final)
	}
}

func TestProcessSkipsEmptyFragments(t *testing.T) {
	src := &loopback.Source{Fragments: []string{"", "a", "", "b", ""}}
	p, store := newProcessor(t, src)

	sub, err := store.Subscribe(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	<-sub.Deliveries() // initial nil

	if _, err := p.Process(context.Background(), validRequest()); err != nil {
		t.Fatal(err)
	}

	// Create + two non-empty fragments + final merge. Empty fragments produce
	// no versions at all.
	wantDeltas := []string{"", "a", "b", "b"}
	for i, want := range wantDeltas {
		d := <-sub.Deliveries()
		if d.Record.LastDelta != want {
			t.Fatalf("delivery %d: LastDelta = %q, want %q", i, d.Record.LastDelta, want)
		}
	}
	rec, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Blackboard["lastResponse"] != "ab" {
		t.Fatalf("lastResponse = %v, want ab", rec.Blackboard["lastResponse"])
	}
}

func TestProcessRejectsOrganizationMismatch(t *testing.T) {
	p, store := newProcessor(t, loopback.New())

	if _, err := p.Process(context.Background(), validRequest()); err != nil {
		t.Fatal(err)
	}
	before, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	req := validRequest()
	req.OrganizationID = "org-2"
	_, err = p.Process(context.Background(), req)
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if authErr.SessionID != "sess-1" {
		t.Fatalf("unexpected session in error: %q", authErr.SessionID)
	}

	// The record must be untouched: same version, no error status.
	after, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("record changed on rejected tick:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestProcessMergesContextShallow(t *testing.T) {
	p, store := newProcessor(t, loopback.New())
	ctx := context.Background()

	req := validRequest()
	req.Context = map[string]any{"a": 1}
	if _, err := p.Process(ctx, req); err != nil {
		t.Fatal(err)
	}

	req.Context = map[string]any{"b": 2}
	if _, err := p.Process(ctx, req); err != nil {
		t.Fatal(err)
	}

	req.Context = map[string]any{"a": 3}
	if _, err := p.Process(ctx, req); err != nil {
		t.Fatal(err)
	}

	rec, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Blackboard["a"] != 3 {
		t.Fatalf("a = %v, want 3 (later tick overwrites)", rec.Blackboard["a"])
	}
	if rec.Blackboard["b"] != 2 {
		t.Fatalf("b = %v, want 2 (earlier keys survive)", rec.Blackboard["b"])
	}
}

func TestProcessAugmentsPromptFromBlackboard(t *testing.T) {
	probe := &promptProbe{}
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	p := New(store, probe)
	p.SetLogger(log.New(io.Discard, "", 0))

	req := validRequest()
	req.Context = map[string]any{"x": "hello"}
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	want := "Context from blackboard:\nx: \"hello\"\n\nUser prompt: hi"
	if probe.prompt != want {
		t.Fatalf("augmented prompt = %q, want %q", probe.prompt, want)
	}

	// Second tick: lastResponse/lastPrompt from the first must stay excluded.
	probe.prompt = ""
	req.Context = nil
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if probe.prompt != want {
		t.Fatalf("second-tick prompt = %q, want %q", probe.prompt, want)
	}
}

func TestProcessMarksErrorOnStreamFailure(t *testing.T) {
	wantErr := errors.New("upstream reset")
	src := &loopback.Source{Fragments: []string{"par"}, Err: wantErr}
	p, store := newProcessor(t, src)

	_, err := p.Process(context.Background(), validRequest())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	rec, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != session.StatusError {
		t.Fatalf("status = %q, want %q", rec.Status, session.StatusError)
	}
	// The fragment relayed before the failure stays visible.
	if rec.LastDelta != "par" {
		t.Fatalf("LastDelta = %q, want %q", rec.LastDelta, "par")
	}
}

func TestProcessLoopbackEcho(t *testing.T) {
	p, store := newProcessor(t, loopback.New())

	if _, err := p.Process(context.Background(), validRequest()); err != nil {
		t.Fatal(err)
	}
	rec, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Blackboard["lastResponse"] != "[loopback] hi" {
		t.Fatalf("lastResponse = %v", rec.Blackboard["lastResponse"])
	}
}

// promptProbe records the prompt handed to the source and streams nothing.
type promptProbe struct {
	prompt string
}

func (p *promptProbe) Stream(ctx context.Context, prompt string) (completion.Stream, error) {
	p.prompt = prompt
	return emptyStream{}, nil
}

type emptyStream struct{}

func (emptyStream) Recv() (string, error) { return "", io.EOF }
func (emptyStream) Close() error          { return nil }
