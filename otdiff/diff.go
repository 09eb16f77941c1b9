// Package otdiff structurally diffs two document snapshots into an ops
// list, for callers that mutate a local draft directly (spec.md §4.D:
// "user code mutates a draft; the diff is converted to ops") instead of
// building Ops by hand.
//
// The algorithm is the teacher's own diffValue/diffObject/diffArray from
// patch.go's New, generalized to emit optype.Op instead of the fixed
// RFC 6902 Operation, and to use add/remove/replace opcodes only — the
// custom opcodes (increment, bit, @txt, ...) have no structural
// equivalent to diff towards and are never synthesized here.
package otdiff

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
	"github.com/agentflare-ai/go-otpatch/optype"
)

// Diff produces the ops that transform before into after. Both values are
// normalized through a JSON round-trip first so map/slice/number
// representations match what ApplyPatch and its handlers expect.
func Diff(before, after any) ([]optype.Op, error) {
	nb, err := normalize(before)
	if err != nil {
		return nil, fmt.Errorf("normalizing before: %w", err)
	}
	na, err := normalize(after)
	if err != nil {
		return nil, fmt.Errorf("normalizing after: %w", err)
	}
	return diffValue("", nb, na)
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func diffValue(path string, a, b any) ([]optype.Op, error) {
	if reflect.DeepEqual(a, b) {
		return nil, nil
	}

	if ma, ok := a.(map[string]any); ok {
		if mb, ok := b.(map[string]any); ok {
			return diffObject(path, ma, mb)
		}
	}
	if sa, ok := a.([]any); ok {
		if sb, ok := b.([]any); ok {
			return diffArray(path, sa, sb)
		}
	}

	return []optype.Op{{Op: optype.Replace, Path: path, Value: b}}, nil
}

func diffObject(path string, a, b map[string]any) ([]optype.Op, error) {
	var out []optype.Op

	for k := range a {
		if _, exists := b[k]; !exists {
			out = append(out, optype.Op{Op: optype.Remove, Path: jsonptr.Join(path, k)})
		}
	}
	for k, vb := range b {
		if va, exists := a[k]; exists {
			child, err := diffValue(jsonptr.Join(path, k), va, vb)
			if err != nil {
				return nil, err
			}
			out = append(out, child...)
			continue
		}
		out = append(out, optype.Op{Op: optype.Add, Path: jsonptr.Join(path, k), Value: vb})
	}

	return out, nil
}

// diffArray produces ops transforming a -> b using an LCS-based edit
// script: elements common to both (by value, via tokenizeArray) are kept
// in place, removes emitted in descending index order, adds in ascending
// order, matching the invert/transform bookkeeping add/remove already do
// for array-index shifting.
func diffArray(path string, a, b []any) ([]optype.Op, error) {
	atoks, err := tokenizeArray(a)
	if err != nil {
		return nil, err
	}
	btoks, err := tokenizeArray(b)
	if err != nil {
		return nil, err
	}
	n, m := len(atoks), len(btoks)

	posMap := make(map[string][]int, n)
	for i, t := range atoks {
		posMap[t] = append(posMap[t], i)
	}
	type pair struct{ ai, bj int }
	pairs := make([]pair, 0, minInt(n, m))
	seq := make([]int, 0, minInt(n, m))
	for j, t := range btoks {
		q := posMap[t]
		if len(q) == 0 {
			continue
		}
		ai := q[0]
		posMap[t] = q[1:]
		pairs = append(pairs, pair{ai: ai, bj: j})
		seq = append(seq, ai)
	}

	k := len(seq)
	tails := make([]int, 0, k)
	prev := make([]int, k)
	for i := range prev {
		prev[i] = -1
	}
	for i, v := range seq {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		pos := lo
		if pos > 0 {
			prev[i] = tails[pos-1]
		}
		if pos == len(tails) {
			tails = append(tails, i)
		} else {
			tails[pos] = i
		}
	}
	lisLen := len(tails)
	lisIdx := make([]int, lisLen)
	if lisLen > 0 {
		p := tails[lisLen-1]
		for x := lisLen - 1; x >= 0; x-- {
			lisIdx[x] = p
			p = prev[p]
			if p < 0 && x > 0 {
				break
			}
		}
	}

	keepA := make([]bool, n)
	keepB := make([]bool, m)
	for _, idxPair := range lisIdx {
		keepA[pairs[idxPair].ai] = true
		keepB[pairs[idxPair].bj] = true
	}

	var ops []optype.Op
	for i := n - 1; i >= 0; i-- {
		if !keepA[i] {
			ops = append(ops, optype.Op{Op: optype.Remove, Path: jsonptr.Join(path, strconv.Itoa(i))})
		}
	}
	for j := 0; j < m; j++ {
		if !keepB[j] {
			ops = append(ops, optype.Op{Op: optype.Add, Path: jsonptr.Join(path, strconv.Itoa(j)), Value: b[j]})
		}
	}
	return ops, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// tokenizeArray maps each element to a comparable string key so equal
// values (including nested objects/arrays) collapse to the same token
// without repeated deep equality checks during LIS construction.
func tokenizeArray(arr []any) ([]string, error) {
	out := make([]string, len(arr))
	for i, v := range arr {
		switch tv := v.(type) {
		case nil:
			out[i] = "0"
		case bool:
			if tv {
				out[i] = "b:1"
			} else {
				out[i] = "b:0"
			}
		case float64:
			if tv == 0 {
				out[i] = "n:0"
				continue
			}
			out[i] = "n:" + strconv.FormatUint(math.Float64bits(tv), 16)
		case string:
			out[i] = "s:" + tv
		default:
			bs, err := json.Marshal(tv)
			if err != nil {
				return nil, err
			}
			out[i] = "j:" + string(bs)
		}
	}
	return out, nil
}
