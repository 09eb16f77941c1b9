package otdiff_test

import (
	"encoding/json"
	"testing"

	"github.com/agentflare-ai/go-otpatch/optype"
	"github.com/agentflare-ai/go-otpatch/otdiff"
	"github.com/agentflare-ai/go-otpatch/otpatch"
)

func parseJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return v
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}
	return string(raw)
}

func TestDiffObjectAddRemoveReplace(t *testing.T) {
	before := parseJSON(t, `{"a":1,"b":2}`)
	after := parseJSON(t, `{"a":1,"b":3,"c":4}`)

	ops, err := otdiff.Diff(before, after)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	registry := optype.NewRegistry(nil)
	got, err := otpatch.ApplyPatch(before, ops, true, registry)
	if err != nil {
		t.Fatalf("ApplyPatch(diff ops): %v", err)
	}
	if toJSON(t, got) != toJSON(t, after) {
		t.Errorf("applying diff ops produced %s, want %s", toJSON(t, got), toJSON(t, after))
	}
}

func TestDiffArrayKeepsCommonElements(t *testing.T) {
	before := parseJSON(t, `{"items":["a","b","c"]}`)
	after := parseJSON(t, `{"items":["a","x","b","c"]}`)

	ops, err := otdiff.Diff(before, after)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	for _, op := range ops {
		if op.Op == optype.Remove {
			t.Errorf("expected no removes for a pure insertion, got %#v", op)
		}
	}

	registry := optype.NewRegistry(nil)
	got, err := otpatch.ApplyPatch(before, ops, true, registry)
	if err != nil {
		t.Fatalf("ApplyPatch(diff ops): %v", err)
	}
	if toJSON(t, got) != toJSON(t, after) {
		t.Errorf("applying diff ops produced %s, want %s", toJSON(t, got), toJSON(t, after))
	}
}

func TestDiffNoChangeProducesNoOps(t *testing.T) {
	doc := parseJSON(t, `{"a":[1,2,3]}`)
	ops, err := otdiff.Diff(doc, parseJSON(t, `{"a":[1,2,3]}`))
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected no ops for identical documents, got %#v", ops)
	}
}

func TestDiffTypeChangeReplacesWholeValue(t *testing.T) {
	before := parseJSON(t, `{"a":{"x":1}}`)
	after := parseJSON(t, `{"a":[1,2,3]}`)

	ops, err := otdiff.Diff(before, after)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(ops) != 1 || ops[0].Op != optype.Replace || ops[0].Path != "/a" {
		t.Errorf("expected a single replace at /a, got %#v", ops)
	}
}
