package optype

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
	"github.com/agentflare-ai/go-otpatch/oterr"
)

// Rich-text deltas follow the standard Quill/ShareDB insert/retain/delete
// algebra (spec.md §4.C/§9): a "document" is a []TextOp of inserts only,
// and an incoming op's value is a delta of insert/retain/delete steps
// (with optional formatting attributes) applied against it. None of the
// example pack repos implement this operator (see DESIGN.md); the
// iterator-based compose/transform below follows the textbook algorithm
// for that algebra rather than any specific example.

const unbounded = math.MaxInt32

func deltaOpLength(op TextOp) int {
	if op.Insert != nil {
		if s, ok := op.Insert.(string); ok {
			return utf8.RuneCountInString(s)
		}
		return 1
	}
	if op.Delete > 0 {
		return op.Delete
	}
	return op.Retain
}

type deltaOpKind int

const (
	kindInsert deltaOpKind = iota
	kindDelete
	kindRetain
)

func kindOf(op TextOp) deltaOpKind {
	switch {
	case op.Insert != nil:
		return kindInsert
	case op.Delete > 0:
		return kindDelete
	default:
		return kindRetain
	}
}

// deltaIterator yields ops from a delta split at arbitrary boundaries,
// so two delta op-lists with differently-sized steps can be walked in
// lockstep.
type deltaIterator struct {
	ops    []TextOp
	idx    int
	offset int
}

func newDeltaIterator(ops []TextOp) *deltaIterator {
	return &deltaIterator{ops: ops}
}

func (it *deltaIterator) hasNext() bool { return it.idx < len(it.ops) }

func (it *deltaIterator) peekKind() deltaOpKind {
	if !it.hasNext() {
		return kindRetain
	}
	return kindOf(it.ops[it.idx])
}

func (it *deltaIterator) peekLength() int {
	if !it.hasNext() {
		return unbounded
	}
	return deltaOpLength(it.ops[it.idx]) - it.offset
}

// next returns the next op truncated to at most maxLen units; a maxLen
// of 0 or less takes the rest of the current op untruncated. When the
// iterator is exhausted it yields an infinite identity retain, so
// composing/transforming against a shorter op list behaves as a no-op
// tail rather than an error.
func (it *deltaIterator) next(maxLen int) TextOp {
	if !it.hasNext() {
		return TextOp{Retain: maxLen}
	}
	op := it.ops[it.idx]
	remaining := deltaOpLength(op) - it.offset
	take := remaining
	if maxLen > 0 && maxLen < take {
		take = maxLen
	}

	var result TextOp
	switch kindOf(op) {
	case kindInsert:
		if s, ok := op.Insert.(string); ok {
			runes := []rune(s)
			result = TextOp{Insert: string(runes[it.offset : it.offset+take]), Attributes: op.Attributes}
		} else {
			result = op
		}
	case kindDelete:
		result = TextOp{Delete: take}
	default:
		result = TextOp{Retain: take, Attributes: op.Attributes}
	}

	if take == remaining {
		it.idx++
		it.offset = 0
	} else {
		it.offset += take
	}
	return result
}

func mergeAttrs(base, overlay map[string]any) map[string]any {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// composeDeltas composes delta b onto delta a (or onto document a, when
// a contains only inserts): the result is the single delta that
// reproduces applying a then b.
func composeDeltas(a, b []TextOp) []TextOp {
	ai, bi := newDeltaIterator(a), newDeltaIterator(b)
	var result []TextOp

	for ai.hasNext() || bi.hasNext() {
		if bi.peekKind() == kindInsert {
			result = append(result, bi.next(unbounded))
			continue
		}
		if ai.peekKind() == kindDelete {
			result = append(result, ai.next(unbounded))
			continue
		}

		length := ai.peekLength()
		if bi.peekLength() < length {
			length = bi.peekLength()
		}
		if length == unbounded {
			break
		}
		aOp, bOp := ai.next(length), bi.next(length)

		switch kindOf(bOp) {
		case kindDelete:
			if kindOf(aOp) == kindInsert {
				continue // inserted then immediately deleted: cancels out
			}
			result = append(result, TextOp{Delete: length})
		default: // b retains (with or without attributes)
			switch kindOf(aOp) {
			case kindInsert:
				result = append(result, TextOp{Insert: aOp.Insert, Attributes: mergeAttrs(aOp.Attributes, bOp.Attributes)})
			default:
				attrs := mergeAttrs(aOp.Attributes, bOp.Attributes)
				if attrs == nil && length == 0 {
					continue
				}
				result = append(result, TextOp{Retain: length, Attributes: attrs})
			}
		}
	}
	return normalizeDelta(result)
}

// transformDeltas rebases delta b so it applies correctly after delta a
// has already been applied. aPriority breaks insert/insert ties in favor
// of a's content landing first (spec.md: "the current op wins tie-breaks
// on attribute conflicts").
func transformDeltas(a, b []TextOp, aPriority bool) []TextOp {
	ai, bi := newDeltaIterator(a), newDeltaIterator(b)
	var result []TextOp

	for ai.hasNext() || bi.hasNext() {
		if ai.peekKind() == kindInsert && (aPriority || bi.peekKind() != kindInsert) {
			result = append(result, TextOp{Retain: deltaOpLength(ai.next(unbounded))})
			continue
		}
		if bi.peekKind() == kindInsert {
			result = append(result, bi.next(unbounded))
			continue
		}

		length := ai.peekLength()
		if bi.peekLength() < length {
			length = bi.peekLength()
		}
		if length == unbounded {
			break
		}
		aOp, bOp := ai.next(length), bi.next(length)

		switch {
		case kindOf(aOp) == kindDelete:
			continue // a already removed this span; b's op against it is moot
		case kindOf(bOp) == kindDelete:
			result = append(result, bOp)
		default:
			result = append(result, TextOp{Retain: length})
		}
	}
	return normalizeDelta(result)
}

// normalizeDelta merges adjacent ops of the same kind and drops trailing
// no-op retains, keeping composed/transformed deltas compact.
func normalizeDelta(ops []TextOp) []TextOp {
	var out []TextOp
	for _, op := range ops {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if kindOf(*last) == kindOf(op) {
				switch kindOf(op) {
				case kindInsert:
					ls, lok := last.Insert.(string)
					os, ook := op.Insert.(string)
					if lok && ook && attrsEqual(last.Attributes, op.Attributes) {
						last.Insert = ls + os
						continue
					}
				case kindDelete:
					last.Delete += op.Delete
					continue
				case kindRetain:
					if attrsEqual(last.Attributes, op.Attributes) {
						last.Retain += op.Retain
						continue
					}
				}
			}
		}
		out = append(out, op)
	}
	if n := len(out); n > 0 && kindOf(out[n-1]) == kindRetain && len(out[n-1].Attributes) == 0 {
		out = out[:n-1]
	}
	return out
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// toTextOps normalizes an op's value into []TextOp: it accepts the
// native Go type (programmatic construction) or the []any-of-maps shape
// produced by decoding JSON into interface{}.
func toTextOps(v any) ([]TextOp, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []TextOp:
		return t, nil
	case []any:
		out := make([]TextOp, 0, len(t))
		for _, raw := range t {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: @txt op must be an object", oterr.ErrInvalidOpValue)
			}
			op := TextOp{}
			if ins, ok := m["insert"]; ok {
				switch ins.(type) {
				case string, map[string]any:
					op.Insert = ins
				default:
					return nil, fmt.Errorf("%w: @txt insert must be a string or object", oterr.ErrInvalidOpValue)
				}
			}
			if r, ok := m["retain"]; ok {
				if n, ok := asNumber(r); ok {
					op.Retain = int(n)
				}
			}
			if d, ok := m["delete"]; ok {
				if n, ok := asNumber(d); ok {
					op.Delete = int(n)
				}
			}
			if attrs, ok := m["attributes"].(map[string]any); ok {
				op.Attributes = attrs
			}
			out = append(out, op)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: @txt value must be a delta op list", oterr.ErrInvalidOpValue)
	}
}

// ToTextOps exposes toTextOps for callers outside this package (the
// rebase loop's op-internal oversize-change splitting needs to inspect
// and rebuild @txt deltas).
func ToTextOps(v any) ([]TextOp, error) { return toTextOps(v) }

// TextOpsToValue is the inverse of ToTextOps: it produces the Op.Value
// shape a @txt op carries for a given delta.
func TextOpsToValue(ops []TextOp) any { return textOpsToAny(ops) }

func textOpsToAny(ops []TextOp) any {
	out := make([]any, len(ops))
	for i, op := range ops {
		out[i] = op
	}
	return out
}

// ---- @txt handler ----

func textApply(s *State, op Op) error {
	delta, err := toTextOps(op.Value)
	if err != nil {
		return err
	}
	existing, err := jsonptr.Get(s.Root, op.Path)
	existed := err == nil
	var doc []TextOp
	if existed {
		doc, err = toTextOps(existing)
		if err != nil {
			return err
		}
	}
	composed := composeDeltas(doc, delta)
	if existed {
		return setValueAtPath(s, op.Path, textOpsToAny(composed))
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: textOpsToAny(composed)})
}

func textInvert(_ *State, op Op, oldValue any, existed bool, _ any, _ bool) (*Op, error) {
	if !existed {
		return &Op{Op: Remove, Path: op.Path}, nil
	}
	return &Op{Op: Replace, Path: op.Path, Value: oldValue}, nil
}

// textTransform never fails a rebase over a malformed delta: per
// spec.md's "transformPatch never throws" invariant, an op this handler
// can't parse passes through unchanged rather than aborting the whole
// otherOps list.
func textTransform(_ *State, thisOp Op, otherOps []Op) ([]Op, error) {
	thisDelta, err := toTextOps(thisOp.Value)
	if err != nil {
		return otherOps, nil
	}

	result := make([]Op, 0, len(otherOps))
	for _, op := range otherOps {
		if op.Path == thisOp.Path && op.Op == Text {
			otherDelta, err := toTextOps(op.Value)
			if err != nil {
				result = append(result, op) // passthrough: can't rebase, keep as-is
				continue
			}
			rebased := transformDeltas(thisDelta, otherDelta, true)
			newOp := op
			newOp.Value = textOpsToAny(rebased)
			result = append(result, newOp)
			continue
		}
		if isStrictDescendant(op.Path, thisOp.Path) {
			continue // overwritten by the text op's own subtree
		}
		result = append(result, op)
	}
	return result, nil
}

func textCompose(_ *State, v1, v2 any) (any, error) {
	d1, err := toTextOps(v1)
	if err != nil {
		return nil, err
	}
	d2, err := toTextOps(v2)
	if err != nil {
		return nil, err
	}
	return textOpsToAny(composeDeltas(d1, d2)), nil
}
