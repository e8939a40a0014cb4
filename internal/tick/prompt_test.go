package tick

import (
	"strings"
	"testing"
)

func TestBuildContextualPromptWithEntries(t *testing.T) {
	got := BuildContextualPrompt("test", map[string]any{"x": "hello"})

	if !strings.HasPrefix(got, "Context from blackboard:\n") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, `x: "hello"`) {
		t.Fatalf("missing context line: %q", got)
	}
	if !strings.HasSuffix(got, "User prompt: test") {
		t.Fatalf("missing trailing user prompt: %q", got)
	}
}

func TestBuildContextualPromptEmptyContextReturnsPromptUnchanged(t *testing.T) {
	if got := BuildContextualPrompt("test", nil); got != "test" {
		t.Fatalf("expected raw prompt, got %q", got)
	}
	if got := BuildContextualPrompt("test", map[string]any{}); got != "test" {
		t.Fatalf("expected raw prompt, got %q", got)
	}
}

func TestBuildContextualPromptExcludesReservedKeys(t *testing.T) {
	blackboard := map[string]any{
		"lastResponse": "prior answer",
		"lastPrompt":   "prior prompt",
	}
	if got := BuildContextualPrompt("test", blackboard); got != "test" {
		t.Fatalf("reserved keys must not inject a header: %q", got)
	}

	blackboard["topic"] = "go"
	got := BuildContextualPrompt("test", blackboard)
	if strings.Contains(got, "prior answer") || strings.Contains(got, "prior prompt") {
		t.Fatalf("reserved values leaked into prompt: %q", got)
	}
	if !strings.Contains(got, `topic: "go"`) {
		t.Fatalf("eligible key missing: %q", got)
	}
}

func TestBuildContextualPromptDeterministicOrder(t *testing.T) {
	blackboard := map[string]any{"b": 2, "a": 1, "c": 3}
	first := BuildContextualPrompt("p", blackboard)
	for i := 0; i < 10; i++ {
		if got := BuildContextualPrompt("p", blackboard); got != first {
			t.Fatalf("augmented prompt not deterministic:\n%q\n%q", first, got)
		}
	}
	ai := strings.Index(first, "a: 1")
	bi := strings.Index(first, "b: 2")
	ci := strings.Index(first, "c: 3")
	if ai < 0 || bi < 0 || ci < 0 || !(ai < bi && bi < ci) {
		t.Fatalf("expected key-sorted lines, got %q", first)
	}
}

func TestBuildContextualPromptEncodesValuesAsJSON(t *testing.T) {
	got := BuildContextualPrompt("p", map[string]any{
		"list": []any{1, 2},
		"obj":  map[string]any{"k": "v"},
	})
	if !strings.Contains(got, "list: [1,2]") {
		t.Fatalf("list not JSON encoded: %q", got)
	}
	if !strings.Contains(got, `obj: {"k":"v"}`) {
		t.Fatalf("object not JSON encoded: %q", got)
	}
}
