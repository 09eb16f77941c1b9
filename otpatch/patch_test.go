package otpatch_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/agentflare-ai/go-otpatch/optype"
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
		t.Fatalf("marshaling %#v: %v", v, err)
	}
	return string(raw)
}

func TestApplyPatchBasicOps(t *testing.T) {
	registry := optype.NewRegistry(nil)

	testCases := []struct {
		name     string
		doc      string
		ops      []optype.Op
		expected string
	}{
		{
			name:     "add an object member",
			doc:      `{"a":"b","c":"d"}`,
			ops:      []optype.Op{{Op: optype.Add, Path: "/b", Value: "e"}},
			expected: `{"a":"b","b":"e","c":"d"}`,
		},
		{
			name:     "add an array element",
			doc:      `{"foo":["bar","baz"]}`,
			ops:      []optype.Op{{Op: optype.Add, Path: "/foo/1", Value: "qux"}},
			expected: `{"foo":["bar","qux","baz"]}`,
		},
		{
			name:     "append via dash",
			doc:      `{"foo":["bar"]}`,
			ops:      []optype.Op{{Op: optype.Add, Path: "/foo/-", Value: "baz"}},
			expected: `{"foo":["bar","baz"]}`,
		},
		{
			name:     "remove an array element",
			doc:      `{"foo":["bar","qux","baz"]}`,
			ops:      []optype.Op{{Op: optype.Remove, Path: "/foo/1"}},
			expected: `{"foo":["bar","baz"]}`,
		},
		{
			name:     "move a value",
			doc:      `{"foo":{"bar":"baz","waldo":"fred"},"qux":{"corge":"grault"}}`,
			ops:      []optype.Op{{Op: optype.Move, Path: "/qux/thud", From: "/foo/waldo"}},
			expected: `{"foo":{"bar":"baz"},"qux":{"corge":"grault","thud":"fred"}}`,
		},
		{
			name:     "copy a value",
			doc:      `{"foo":{"bar":"baz"},"qux":{}}`,
			ops:      []optype.Op{{Op: optype.Copy, Path: "/qux/baz", From: "/foo/bar"}},
			expected: `{"foo":{"bar":"baz"},"qux":{"baz":"baz"}}`,
		},
		{
			name:     "increment a counter",
			doc:      `{"count":5}`,
			ops:      []optype.Op{{Op: optype.Increment, Path: "/count", Value: float64(3)}},
			expected: `{"count":8}`,
		},
		{
			name:     "increment a missing key starts from zero",
			doc:      `{}`,
			ops:      []optype.Op{{Op: optype.Increment, Path: "/count", Value: float64(3)}},
			expected: `{"count":3}`,
		},
		{
			name:     "max ignores a lower value",
			doc:      `{"score":10}`,
			ops:      []optype.Op{{Op: optype.Max, Path: "/score", Value: float64(4)}},
			expected: `{"score":10}`,
		},
		{
			name:     "max applies a higher value",
			doc:      `{"score":10}`,
			ops:      []optype.Op{{Op: optype.Max, Path: "/score", Value: float64(20)}},
			expected: `{"score":20}`,
		},
		{
			name: "bit sets and clears flags",
			doc:  `{"flags":2}`,
			ops: []optype.Op{
				{Op: optype.Bit, Path: "/flags", Value: float64(optype.Bitmask(0, true) | optype.Bitmask(1, false) | optype.Bitmask(2, true))},
			},
			expected: `{"flags":5}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := parseJSON(t, tc.doc)
			got, err := otpatch.ApplyPatch(doc, tc.ops, true, registry)
			if err != nil {
				t.Fatalf("ApplyPatch: %v", err)
			}
			if toJSON(t, got) != tc.expected {
				t.Errorf("got %s, want %s", toJSON(t, got), tc.expected)
			}
		})
	}
}

func TestApplyPatchMaxMinRejectNonNumericCurrent(t *testing.T) {
	registry := optype.NewRegistry(nil)

	testCases := []struct {
		name string
		op   optype.Opcode
	}{
		{name: "max", op: optype.Max},
		{name: "min", op: optype.Min},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := parseJSON(t, `{"score":"not a number"}`)
			ops := []optype.Op{{Op: tc.op, Path: "/score", Value: float64(5)}}
			if _, err := otpatch.ApplyPatch(doc, ops, true, registry); err == nil {
				t.Errorf("expected %s to reject a non-numeric, non-null current value", tc.op)
			}
		})
	}
}

func TestApplyPatchTestOpFailsOnMismatch(t *testing.T) {
	registry := optype.NewRegistry(nil)
	doc := parseJSON(t, `{"a":1}`)
	ops := []optype.Op{{Op: optype.Test, Path: "/a", Value: float64(2)}}
	if _, err := otpatch.ApplyPatch(doc, ops, true, registry); err == nil {
		t.Error("expected test op to fail")
	}
}

func TestApplyPatchLenientSkipsFailingOps(t *testing.T) {
	registry := optype.NewRegistry(nil)
	doc := parseJSON(t, `{"a":1}`)
	ops := []optype.Op{
		{Op: optype.Remove, Path: "/missing"},
		{Op: optype.Replace, Path: "/a", Value: float64(2)},
	}
	got, err := otpatch.ApplyPatch(doc, ops, false, registry)
	if err != nil {
		t.Fatalf("ApplyPatch (lenient): %v", err)
	}
	if toJSON(t, got) != `{"a":2}` {
		t.Errorf("got %s, want {\"a\":2}", toJSON(t, got))
	}
}

func TestInvertPatchUndoesApply(t *testing.T) {
	registry := optype.NewRegistry(nil)

	testCases := []struct {
		name string
		doc  string
		ops  []optype.Op
	}{
		{
			name: "add then invert",
			doc:  `{"a":"b"}`,
			ops:  []optype.Op{{Op: optype.Add, Path: "/c", Value: "d"}},
		},
		{
			name: "replace then invert",
			doc:  `{"a":1}`,
			ops:  []optype.Op{{Op: optype.Replace, Path: "/a", Value: float64(2)}},
		},
		{
			name: "remove then invert",
			doc:  `{"a":1,"b":2}`,
			ops:  []optype.Op{{Op: optype.Remove, Path: "/b"}},
		},
		{
			name: "move then invert",
			doc:  `{"a":{"x":1},"b":{}}`,
			ops:  []optype.Op{{Op: optype.Move, Path: "/b/x", From: "/a/x"}},
		},
		{
			name: "increment then invert",
			doc:  `{"count":5}`,
			ops:  []optype.Op{{Op: optype.Increment, Path: "/count", Value: float64(7)}},
		},
		{
			name: "increment on a missing key then invert removes it",
			doc:  `{}`,
			ops:  []optype.Op{{Op: optype.Increment, Path: "/count", Value: float64(7)}},
		},
		{
			name: "array add then invert",
			doc:  `{"items":["a","b"]}`,
			ops:  []optype.Op{{Op: optype.Add, Path: "/items/1", Value: "x"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			original := parseJSON(t, tc.doc)

			result, err := otpatch.ApplyPatch(original, tc.ops, true, registry)
			if err != nil {
				t.Fatalf("ApplyPatch: %v", err)
			}

			inverse, err := otpatch.InvertPatch(parseJSON(t, tc.doc), tc.ops, registry)
			if err != nil {
				t.Fatalf("InvertPatch: %v", err)
			}

			restored, err := otpatch.ApplyPatch(result, inverse, true, registry)
			if err != nil {
				t.Fatalf("ApplyPatch (restore): %v", err)
			}

			if toJSON(t, restored) != toJSON(t, original) {
				t.Errorf("restored = %s, want original %s", toJSON(t, restored), toJSON(t, original))
			}
		})
	}
}

func TestComposePatchMergesAdjacentIncrements(t *testing.T) {
	registry := optype.NewRegistry(nil)
	ops := []optype.Op{
		{Op: optype.Increment, Path: "/count", Value: float64(1)},
		{Op: optype.Increment, Path: "/count", Value: float64(2)},
	}
	composed, err := otpatch.ComposePatch(ops, registry)
	if err != nil {
		t.Fatalf("ComposePatch: %v", err)
	}
	want := []optype.Op{{Op: optype.Increment, Path: "/count", Value: float64(3)}}
	if !reflect.DeepEqual(composed, want) {
		t.Errorf("ComposePatch = %#v, want %#v", composed, want)
	}
}

func TestComposePatchDoesNotMergeAcrossOpcodes(t *testing.T) {
	registry := optype.NewRegistry(nil)
	ops := []optype.Op{
		{Op: optype.Add, Path: "/a", Value: "x"},
		{Op: optype.Replace, Path: "/a", Value: "y"},
	}
	composed, err := otpatch.ComposePatch(ops, registry)
	if err != nil {
		t.Fatalf("ComposePatch: %v", err)
	}
	if len(composed) != 2 {
		t.Errorf("ComposePatch merged ops of different opcodes: %#v", composed)
	}
}

func TestComposePatchInvalidatesDescendantsOnAncestorWrite(t *testing.T) {
	registry := optype.NewRegistry(nil)
	ops := []optype.Op{
		{Op: optype.Increment, Path: "/a/x", Value: float64(1)},
		{Op: optype.Replace, Path: "/a", Value: map[string]any{}},
		{Op: optype.Increment, Path: "/a/x", Value: float64(2)},
	}
	composed, err := otpatch.ComposePatch(ops, registry)
	if err != nil {
		t.Fatalf("ComposePatch: %v", err)
	}
	if len(composed) != 3 {
		t.Errorf("ComposePatch should not merge across the intervening /a replace: %#v", composed)
	}
}

func TestTransformPatchConvergesBothOrders(t *testing.T) {
	registry := optype.NewRegistry(nil)
	doc := parseJSON(t, `{"items":["a","b","c"]}`)

	clientA := []optype.Op{{Op: optype.Add, Path: "/items/1", Value: "X"}}
	clientB := []optype.Op{{Op: optype.Remove, Path: "/items/2"}}

	rebasedB := otpatch.TransformPatch(nil, clientA, clientB, registry)
	docA, err := otpatch.ApplyPatch(doc, clientA, true, registry)
	if err != nil {
		t.Fatalf("ApplyPatch(A): %v", err)
	}
	orderAB, err := otpatch.ApplyPatch(docA, rebasedB, true, registry)
	if err != nil {
		t.Fatalf("ApplyPatch(rebased B after A): %v", err)
	}

	rebasedA := otpatch.TransformPatch(nil, clientB, clientA, registry)
	docB, err := otpatch.ApplyPatch(doc, clientB, true, registry)
	if err != nil {
		t.Fatalf("ApplyPatch(B): %v", err)
	}
	orderBA, err := otpatch.ApplyPatch(docB, rebasedA, true, registry)
	if err != nil {
		t.Fatalf("ApplyPatch(rebased A after B): %v", err)
	}

	if toJSON(t, orderAB) != toJSON(t, orderBA) {
		t.Errorf("transform did not converge: A-then-B = %s, B-then-A = %s", toJSON(t, orderAB), toJSON(t, orderBA))
	}
}

func TestTransformPatchDropsDescendantOfReplacedSubtree(t *testing.T) {
	registry := optype.NewRegistry(nil)
	thisOps := []optype.Op{{Op: optype.Replace, Path: "/a", Value: "scalar"}}
	otherOps := []optype.Op{{Op: optype.Replace, Path: "/a/nested", Value: "stale"}}

	rebased := otpatch.TransformPatch(nil, thisOps, otherOps, registry)
	if len(rebased) != 0 {
		t.Errorf("expected the nested op to be dropped, got %#v", rebased)
	}
}

func TestTransformPatchPassesThroughUnknownOpcode(t *testing.T) {
	registry := optype.NewRegistry(nil)
	thisOps := []optype.Op{{Op: optype.Opcode("@future"), Path: "/a", Value: "x"}}
	otherOps := []optype.Op{{Op: optype.Replace, Path: "/b", Value: "y"}}

	rebased := otpatch.TransformPatch(nil, thisOps, otherOps, registry)
	if !reflect.DeepEqual(rebased, otherOps) {
		t.Errorf("expected an unresolvable opcode to pass otherOps through unchanged, got %#v", rebased)
	}
}

func TestTransformPatchPassesThroughMalformedTextDelta(t *testing.T) {
	registry := optype.NewRegistry(nil)
	thisOps := []optype.Op{{Op: optype.Text, Path: "/body", Value: "not a delta"}}
	otherOps := []optype.Op{{Op: optype.Text, Path: "/body", Value: "also not a delta"}}

	rebased := otpatch.TransformPatch(nil, thisOps, otherOps, registry)
	if !reflect.DeepEqual(rebased, otherOps) {
		t.Errorf("expected a malformed @txt delta to pass otherOps through unchanged, got %#v", rebased)
	}
}
