// Package otpatch implements the patch algebra of spec.md §4.D:
// applyPatch, invertPatch, composePatch, transformPatch. Each drives
// optype.Registry handlers over an optype.State, generalizing the
// teacher's ApplyInPlace dispatch loop (same per-op switch, same
// "patch operation %s failed: %w" wrap idiom) to custom opcodes and to
// the invert/compose/transform morphisms the teacher's library never
// needed.
package otpatch

import (
	"fmt"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
	"github.com/agentflare-ai/go-otpatch/optype"
	"github.com/agentflare-ai/go-otpatch/oterr"
)

// ApplyPatch runs ops against root in a fresh State bound to registry.
// In strict mode (strict == true), the first handler error aborts and
// returns that error; in lenient mode (strict == false, what
// otconfig.Default selects) a failing op is skipped and the remaining
// ops still run. The returned root is
// structurally shared with the input wherever no op touched it.
func ApplyPatch(root any, ops []optype.Op, strict bool, registry *optype.Registry) (any, error) {
	s := optype.NewState(root, registry)
	for _, op := range ops {
		resolved, err := resolveAppend(s.Root, op)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}
		handler, ok := registry.Lookup(resolved.Op)
		if !ok {
			if strict {
				return nil, fmt.Errorf("%w: %s", oterr.ErrUnknownOpcode, resolved.Op)
			}
			continue
		}
		if err := handler.Apply(s, resolved); err != nil {
			if strict {
				return nil, fmt.Errorf("patch operation %s failed: %w", resolved.Op, err)
			}
			continue
		}
	}
	return s.Root, nil
}

// resolveAppend rewrites a trailing "-" token in op.Path (and, for
// move/copy, in op.From) into the concrete index it currently denotes,
// mirroring the teacher's resolveConcreteAddPath.
func resolveAppend(root any, op optype.Op) (optype.Op, error) {
	path, err := jsonptr.ResolveAppendPath(root, op.Path)
	if err != nil {
		return optype.Op{}, err
	}
	op.Path = path
	if op.From != "" {
		from, err := jsonptr.ResolveAppendPath(root, op.From)
		if err != nil {
			return optype.Op{}, err
		}
		op.From = from
	}
	return op, nil
}

// InvertPatch computes the inverse of ops, in application order,
// against root as it stood before any of ops were applied. The
// returned list undoes ops when applied in order (apply(invert(ops))
// after apply(ops) is the identity, spec.md §8). nil inverses (e.g.
// from test, which never mutates) are dropped.
func InvertPatch(root any, ops []optype.Op, registry *optype.Registry) ([]optype.Op, error) {
	s := optype.NewState(root, registry)
	inverses := make([]optype.Op, 0, len(ops))

	for _, op := range ops {
		resolved, err := resolveAppend(s.Root, op)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", oterr.ErrPatchMismatch, err)
		}
		handler, ok := registry.Lookup(resolved.Op)
		if !ok {
			return nil, fmt.Errorf("%w: unknown opcode %s", oterr.ErrUnknownOpcode, resolved.Op)
		}

		data, err := optype.GetOpData(s, resolved.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", oterr.ErrPatchMismatch, err)
		}
		oldValue, existed := lookupOldValue(data)
		isIndex := isArrayIndexTarget(data)

		inv, err := handler.Invert(s, resolved, oldValue, existed, data.Parent, isIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", oterr.ErrPatchMismatch, err)
		}

		if err := handler.Apply(s, resolved); err != nil {
			return nil, fmt.Errorf("patch operation %s failed: %w", resolved.Op, err)
		}
		if inv != nil {
			inverses = append(inverses, *inv)
		}
	}

	reversed := make([]optype.Op, len(inverses))
	for i, op := range inverses {
		reversed[len(inverses)-1-i] = op
	}
	return reversed, nil
}

func lookupOldValue(data optype.OpData) (any, bool) {
	switch p := data.Parent.(type) {
	case map[string]any:
		v, ok := p[data.LastKey]
		return v, ok
	case []any:
		idx := jsonptr.ArrayIndex(data.LastKey, len(p))
		if idx < 0 || idx >= len(p) {
			return nil, false
		}
		return p[idx], true
	default:
		return nil, false
	}
}

func isArrayIndexTarget(data optype.OpData) bool {
	_, ok := data.Parent.([]any)
	return ok
}

// ComposePatch collapses adjacent same-path, same-opcode ops whose
// handler supports Compose into a single equivalent op (spec.md §4.D):
// a linear pass keeping a per-path index of the last kept op. An op at
// a parent path invalidates every deeper cached entry — they can no
// longer be safely composed across the intervening overwrite — and any
// opcode without a Compose flushes the cache entry for its own path.
func ComposePatch(ops []optype.Op, registry *optype.Registry) ([]optype.Op, error) {
	result := make([]optype.Op, 0, len(ops))
	lastIndexByPath := make(map[string]int)

	invalidateDescendants := func(path string) {
		for p, idx := range lastIndexByPath {
			if idx >= 0 && p != path && isRootedUnder(p, path) {
				delete(lastIndexByPath, p)
			}
		}
	}

	for _, op := range ops {
		invalidateDescendants(op.Path)

		if idx, ok := lastIndexByPath[op.Path]; ok && idx >= 0 {
			prev := result[idx]
			if prev.Op == op.Op {
				handler, found := registry.Lookup(op.Op)
				if found && handler.Compose != nil {
					merged, err := handler.Compose(nil, prev.Value, op.Value)
					if err != nil {
						return nil, err
					}
					result[idx] = optype.Op{Op: op.Op, Path: op.Path, Value: merged, Soft: prev.Soft && op.Soft}
					continue
				}
			}
		}

		result = append(result, op)
		lastIndexByPath[op.Path] = len(result) - 1
	}
	return result, nil
}

func isRootedUnder(path, prefix string) bool {
	if path == prefix {
		return false
	}
	if prefix == "" {
		return path != ""
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// TransformPatch rebases otherOps so it applies correctly after thisOps
// has already been applied (spec.md §4.D): fold thisOps left to right,
// each call rewriting whatever remains of otherOps via its handler's
// Transform.
//
// TransformPatch never fails (spec.md's "transformPatch never throws —
// an unresolvable rewrite yields either a dropped op or a passthrough,
// never an exception"): an opcode the registry doesn't recognize (e.g.
// forward-compat skew with a server running a newer custom opcode) or a
// handler.Transform error (e.g. a malformed @txt delta) leaves the
// remaining ops as they already stood for that fold step, rather than
// aborting the rebase for every other op alongside it.
func TransformPatch(state *optype.State, thisOps, otherOps []optype.Op, registry *optype.Registry) []optype.Op {
	remaining := otherOps
	for _, thisOp := range thisOps {
		handler, ok := registry.Lookup(thisOp.Op)
		if !ok {
			continue // unknown opcode: passthrough, can't resolve its effect on remaining
		}
		next, err := handler.Transform(state, thisOp, remaining)
		if err != nil {
			continue // handler couldn't rebase: passthrough, keep remaining as-is
		}
		remaining = next
	}
	return remaining
}
