package optype

import (
	"encoding/json"
	"fmt"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
	"github.com/agentflare-ai/go-otpatch/oterr"
)

// setValueAtPath writes value into the container reached by path,
// splicing nothing (pure overwrite): object keys are set or created,
// array elements are replaced in place. Grounded on the teacher's
// jsonpointer.Set, generalized to route through the session's
// shallow-copy-on-write cache instead of returning a wholly-new root
// each call.
func setValueAtPath(s *State, path string, value any) error {
	keys, err := jsonptr.New(path)
	if err != nil {
		return fmt.Errorf("%w: %s", oterr.ErrInvalidPath, path)
	}
	if len(keys) == 0 {
		s.Root = value
		return nil
	}
	parent, err := PluckWithShallowCopy(s, keys[:len(keys)-1])
	if err != nil {
		return err
	}
	lastKey := keys[len(keys)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[lastKey] = value
		return nil
	case []any:
		idx := jsonptr.ArrayIndex(lastKey, len(p))
		if idx < 0 || idx >= len(p) {
			return fmt.Errorf("%w: %q", oterr.ErrInvalidArrayIndex, lastKey)
		}
		p[idx] = value
		return nil
	default:
		return fmt.Errorf("%w: parent at %q is not a container", oterr.ErrPathNotFound, path)
	}
}

// ---- add ----

func addApply(s *State, op Op) error {
	keys, err := jsonptr.New(op.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", oterr.ErrInvalidPath, op.Path)
	}
	if len(keys) == 0 {
		s.Root = op.Value
		return nil
	}
	parentPath := jsonptr.Pointer(keys[:len(keys)-1]).String()
	curParent, err := jsonptr.Get(s.Root, parentPath)
	if err != nil {
		return fmt.Errorf("%w: parent %q for add", oterr.ErrPathNotFound, parentPath)
	}
	lastKey := keys[len(keys)-1]
	switch cp := curParent.(type) {
	case []any:
		idx := jsonptr.ArrayIndex(lastKey, len(cp))
		if idx < 0 || idx > len(cp) {
			return fmt.Errorf("%w: add index %q out of bounds for array of length %d", oterr.ErrInvalidArrayIndex, lastKey, len(cp))
		}
		newArr := make([]any, 0, len(cp)+1)
		newArr = append(newArr, cp[:idx]...)
		newArr = append(newArr, op.Value)
		newArr = append(newArr, cp[idx:]...)
		return setValueAtPath(s, parentPath, newArr)
	case map[string]any:
		return setValueAtPath(s, op.Path, op.Value)
	default:
		return fmt.Errorf("%w: parent at %q is not a container", oterr.ErrPathNotFound, parentPath)
	}
}

func addInvert(_ *State, op Op, oldValue any, existed bool, _ any, isIndex bool) (*Op, error) {
	if isIndex {
		return &Op{Op: Remove, Path: op.Path}, nil
	}
	if existed {
		return &Op{Op: Replace, Path: op.Path, Value: oldValue}, nil
	}
	return &Op{Op: Remove, Path: op.Path}, nil
}

func addTransform(_ *State, thisOp Op, otherOps []Op) ([]Op, error) {
	ref := analyzeArrayRef(thisOp.Path)
	thisIsEmpty := isEmptyContainer(thisOp.Value)
	// An add at an object member (not an array slot or a "-" append)
	// overwrites that path, so a concurrent op at the same path is stale
	// just like one nested under it.
	lastTok, _ := jsonptr.LastToken(thisOp.Path)
	overwritesPath := !ref.isArray && lastTok != "-"

	result := make([]Op, 0, len(otherOps))
	for _, op := range otherOps {
		newOp := op
		if ref.isArray {
			shiftIndexIfSameArray(&newOp.Path, ref.arrayPath, ref.index, +1)
			if newOp.From != "" {
				shiftIndexIfSameArray(&newOp.From, ref.arrayPath, ref.index, +1)
			}
		}

		if newOp.Path == thisOp.Path && newOp.Op == Add &&
			thisIsEmpty && isEmptyContainer(newOp.Value) && sameContainerShape(thisOp.Value, newOp.Value) {
			continue // soft merge: duplicate create-if-absent, drop the later one
		}
		if !thisIsEmpty {
			if isStrictDescendant(newOp.Path, thisOp.Path) || (overwritesPath && newOp.Path == thisOp.Path) {
				continue // subtree was just overwritten, concurrent op at or under it is stale
			}
			if newOp.From != "" && isStrictDescendant(newOp.From, thisOp.Path) {
				continue
			}
		}
		result = append(result, newOp)
	}
	return result, nil
}

// ---- remove ----

func removeApply(s *State, op Op) error {
	keys, err := jsonptr.New(op.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", oterr.ErrInvalidPath, op.Path)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: cannot remove root", oterr.ErrPathNotFound)
	}
	parentPath := jsonptr.Pointer(keys[:len(keys)-1]).String()
	curParent, err := jsonptr.Get(s.Root, parentPath)
	if err != nil {
		return fmt.Errorf("%w: parent %q for remove", oterr.ErrPathNotFound, parentPath)
	}
	lastKey := keys[len(keys)-1]
	switch cp := curParent.(type) {
	case []any:
		if lastKey == "-" {
			return fmt.Errorf("%w: %q", oterr.ErrInvalidArrayIndex, lastKey)
		}
		idx := jsonptr.ArrayIndex(lastKey, len(cp))
		if idx < 0 || idx >= len(cp) {
			return fmt.Errorf("%w: %q", oterr.ErrInvalidArrayIndex, lastKey)
		}
		newArr := make([]any, 0, len(cp)-1)
		newArr = append(newArr, cp[:idx]...)
		newArr = append(newArr, cp[idx+1:]...)
		return setValueAtPath(s, parentPath, newArr)
	case map[string]any:
		if _, ok := cp[lastKey]; !ok {
			return fmt.Errorf("%w: key %q", oterr.ErrPathNotFound, lastKey)
		}
		parent, err := PluckWithShallowCopy(s, keys[:len(keys)-1])
		if err != nil {
			return err
		}
		delete(parent.(map[string]any), lastKey)
		return nil
	default:
		return fmt.Errorf("%w: parent at %q is not a container", oterr.ErrPathNotFound, parentPath)
	}
}

func removeInvert(_ *State, op Op, oldValue any, _ bool, _ any, _ bool) (*Op, error) {
	return &Op{Op: Add, Path: op.Path, Value: oldValue}, nil
}

func removeTransform(_ *State, thisOp Op, otherOps []Op) ([]Op, error) {
	ref := analyzeArrayRef(thisOp.Path)

	result := make([]Op, 0, len(otherOps))
	for _, op := range otherOps {
		if isRootedAt(op.Path, thisOp.Path) {
			continue // target no longer exists
		}
		if op.Op == Move && op.From != "" && isRootedAt(op.From, thisOp.Path) {
			continue // source was deleted, nothing left to move
		}
		newOp := op
		if op.From != "" && isRootedAt(op.From, thisOp.Path) {
			continue
		}
		if ref.isArray {
			shiftIndexIfSameArray(&newOp.Path, ref.arrayPath, ref.index+1, -1)
			if newOp.From != "" {
				shiftIndexIfSameArray(&newOp.From, ref.arrayPath, ref.index+1, -1)
			}
		}
		result = append(result, newOp)
	}
	return result, nil
}

// ---- replace ----

func replaceApply(s *State, op Op) error {
	if _, err := jsonptr.Get(s.Root, op.Path); err != nil {
		return fmt.Errorf("%w: %s", oterr.ErrPathNotFound, op.Path)
	}
	return setValueAtPath(s, op.Path, op.Value)
}

func replaceInvert(_ *State, op Op, oldValue any, existed bool, _ any, _ bool) (*Op, error) {
	if !existed {
		return &Op{Op: Remove, Path: op.Path}, nil
	}
	return &Op{Op: Replace, Path: op.Path, Value: oldValue}, nil
}

func replaceTransform(_ *State, thisOp Op, otherOps []Op) ([]Op, error) {
	result := make([]Op, 0, len(otherOps))
	for _, op := range otherOps {
		if isRootedAt(op.Path, thisOp.Path) {
			continue
		}
		result = append(result, op)
	}
	return result, nil
}

// ---- copy ----

func copyApply(s *State, op Op) error {
	val, err := jsonptr.Get(s.Root, op.From)
	if err != nil {
		return fmt.Errorf("%w: from %q", oterr.ErrPathNotFound, op.From)
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: val})
}

func copyInvert(s *State, op Op, oldValue any, existed bool, parent any, isIndex bool) (*Op, error) {
	return addInvert(s, op, oldValue, existed, parent, isIndex)
}

func copyTransform(s *State, thisOp Op, otherOps []Op) ([]Op, error) {
	// Mirrors add's array-index bookkeeping; copy always introduces new
	// content at path so ops under it (and, at an object member, at it)
	// are always considered stale.
	asAdd := thisOp
	asAdd.Value = nil // force thisIsEmpty == false in addTransform
	return addTransform(s, asAdd, otherOps)
}

// ---- move ----

func moveApply(s *State, op Op) error {
	if op.Path == op.From {
		return nil
	}
	val, err := jsonptr.Get(s.Root, op.From)
	if err != nil {
		return fmt.Errorf("%w: from %q", oterr.ErrPathNotFound, op.From)
	}
	if err := removeApply(s, Op{Op: Remove, Path: op.From}); err != nil {
		return err
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: val})
}

func moveInvert(_ *State, op Op, _ any, _ bool, _ any, _ bool) (*Op, error) {
	if op.Path == op.From {
		return nil, nil
	}
	return &Op{Op: Move, Path: op.From, From: op.Path}, nil
}

func moveTransform(_ *State, thisOp Op, otherOps []Op) ([]Op, error) {
	if thisOp.Path == thisOp.From {
		return otherOps, nil
	}

	fromRef := analyzeArrayRef(thisOp.From)
	toRef := analyzeArrayRef(thisOp.Path)
	if fromRef.isArray && toRef.isArray && fromRef.arrayPath == toRef.arrayPath && fromRef.index < toRef.index {
		// Moving upward within the same array: after the source element
		// is removed, every index below the nominal destination shifts
		// down by one, so the effective insertion point is one less.
		toRef.index--
	}

	result := make([]Op, 0, len(otherOps))
	for _, op := range otherOps {
		newOp := op
		if rewritten, ok := rebasePrefix(newOp.Path, thisOp.From, thisOp.Path); ok {
			newOp.Path = rewritten
		}
		if newOp.From != "" {
			if rewritten, ok := rebasePrefix(newOp.From, thisOp.From, thisOp.Path); ok {
				newOp.From = rewritten
			}
		}
		if fromRef.isArray {
			shiftIndexIfSameArray(&newOp.Path, fromRef.arrayPath, fromRef.index+1, -1)
			if newOp.From != "" {
				shiftIndexIfSameArray(&newOp.From, fromRef.arrayPath, fromRef.index+1, -1)
			}
		}
		if toRef.isArray {
			shiftIndexIfSameArray(&newOp.Path, toRef.arrayPath, toRef.index, +1)
			if newOp.From != "" {
				shiftIndexIfSameArray(&newOp.From, toRef.arrayPath, toRef.index, +1)
			}
		}
		result = append(result, newOp)
	}
	return result, nil
}

// ---- test ----

func testApply(s *State, op Op) error {
	actual, err := jsonptr.Get(s.Root, op.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", oterr.ErrPathNotFound, op.Path)
	}
	actualBytes, err := json.Marshal(actual)
	if err != nil {
		return err
	}
	expectedBytes, err := json.Marshal(op.Value)
	if err != nil {
		return err
	}
	if string(actualBytes) != string(expectedBytes) {
		return fmt.Errorf("%w: expected %s, got %s", oterr.ErrTestFailed, expectedBytes, actualBytes)
	}
	return nil
}

func testInvert(_ *State, _ Op, _ any, _ bool, _ any, _ bool) (*Op, error) {
	return nil, nil
}
