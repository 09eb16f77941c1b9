package optype

import (
	"fmt"
	"reflect"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
	"github.com/agentflare-ai/go-otpatch/oterr"
)

// State is the mutable logical root of a single apply/invert/compose
// session, plus the bookkeeping that makes repeated mutations on the
// same subtree O(depth) instead of O(depth*ops): a set of containers
// already cloned this session, so a second write into an already-copied
// subtree mutates it in place instead of re-cloning.
//
// This generalizes the teacher's one-off shallowCloneMap/shallowCloneSlice/
// cowSetAtPath helpers (written for ExtractAdded) into a reusable
// shallow-copy-on-write primitive every handler's Apply shares.
type State struct {
	Root     any
	Registry *Registry

	cloned map[uintptr]struct{}
}

// NewState starts a fresh apply session rooted at root, bound to registry.
func NewState(root any, registry *Registry) *State {
	return &State{Root: root, Registry: registry, cloned: make(map[uintptr]struct{})}
}

// OpData is the (keys, lastKey, parent) triple spec.md §4.A returns from
// resolving a path against the current state: parent is nil if any
// intermediate step is missing or not a container.
type OpData struct {
	Keys    jsonptr.Pointer
	LastKey string
	Parent  any
}

// GetOpData resolves path against s.Root, returning the parsed tokens,
// the final token, and the object/array reached by walking all but the
// final token (nil if unreachable).
func GetOpData(s *State, path string) (OpData, error) {
	keys, err := jsonptr.New(path)
	if err != nil {
		return OpData{}, fmt.Errorf("%w: %s: %v", oterr.ErrInvalidPath, path, err)
	}
	if len(keys) == 0 {
		return OpData{Keys: keys, LastKey: "", Parent: nil}, nil
	}
	parentPath := jsonptr.Pointer(keys[0 : len(keys)-1]).String()
	parent, err := jsonptr.Get(s.Root, parentPath)
	if err != nil {
		return OpData{Keys: keys, LastKey: keys[len(keys)-1], Parent: nil}, nil
	}
	switch parent.(type) {
	case map[string]any, []any:
		return OpData{Keys: keys, LastKey: keys[len(keys)-1], Parent: parent}, nil
	default:
		return OpData{Keys: keys, LastKey: keys[len(keys)-1], Parent: nil}, nil
	}
}

// identityPtr returns the underlying data pointer of a map or slice, a
// stand-in for reference-identity membership (the TS implementation uses
// a WeakSet of objects; spec.md §9 calls out arena/refcount alternatives
// in systems languages). Scalars have no meaningful identity and are
// never tracked.
func identityPtr(node any) (uintptr, bool) {
	v := reflect.ValueOf(node)
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

func (s *State) markCloned(node any) {
	if p, ok := identityPtr(node); ok {
		s.cloned[p] = struct{}{}
	}
}

func (s *State) isCloned(node any) bool {
	p, ok := identityPtr(node)
	if !ok {
		return false
	}
	_, cloned := s.cloned[p]
	return cloned
}

// PluckWithShallowCopy walks s.Root along keys, shallow-cloning each
// container the first time it is visited in this session, and returns
// the live mutable node at that path. Subtrees not on any op's mutation
// path stay referentially equal to the original root (spec.md invariant
// 6).
func PluckWithShallowCopy(s *State, keys jsonptr.Pointer) (any, error) {
	if !s.isCloned(s.Root) {
		s.Root = shallowClone(s.Root)
		s.markCloned(s.Root)
	}

	cur := s.Root
	for i, tok := range keys {
		switch c := cur.(type) {
		case map[string]any:
			child, ok := c[tok]
			if !ok {
				return nil, fmt.Errorf("%w: key %q at segment %d", oterr.ErrPathNotFound, tok, i)
			}
			if !s.isCloned(child) {
				child = shallowClone(child)
				s.markCloned(child)
				c[tok] = child
			}
			cur = child
		case []any:
			idx := jsonptr.ArrayIndex(tok, len(c))
			if idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("%w: %q at segment %d", oterr.ErrInvalidArrayIndex, tok, i)
			}
			child := c[idx]
			if !s.isCloned(child) {
				child = shallowClone(child)
				s.markCloned(child)
				c[idx] = child
			}
			cur = child
		default:
			return nil, fmt.Errorf("%w: segment %d is not a container", oterr.ErrPathNotFound, i)
		}
	}
	return cur, nil
}

// shallowClone copies one level of a container so mutating the copy
// never affects the original; scalar/leaf values are returned unchanged
// since they are never mutated in place.
func shallowClone(node any) any {
	switch v := node.(type) {
	case map[string]any:
		cp := make(map[string]any, len(v))
		for k, val := range v {
			cp[k] = val
		}
		return cp
	case []any:
		cp := make([]any, len(v))
		copy(cp, v)
		return cp
	default:
		return node
	}
}
