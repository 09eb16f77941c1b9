package optype

import (
	"fmt"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
	"github.com/agentflare-ai/go-otpatch/oterr"
)

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ---- increment (^) ----

func incrementApply(s *State, op Op) error {
	delta, ok := asNumber(op.Value)
	if !ok {
		return fmt.Errorf("%w: increment delta must be numeric", oterr.ErrInvalidOpValue)
	}
	current, err := jsonptr.Get(s.Root, op.Path)
	var base float64
	if err == nil {
		base, ok = asNumber(current)
		if !ok {
			return fmt.Errorf("%w: increment target must be numeric", oterr.ErrInvalidOpValue)
		}
		return setValueAtPath(s, op.Path, base+delta)
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: base + delta})
}

func incrementInvert(_ *State, op Op, oldValue any, existed bool, _ any, _ bool) (*Op, error) {
	if !existed {
		return &Op{Op: Remove, Path: op.Path}, nil
	}
	return &Op{Op: Replace, Path: op.Path, Value: oldValue}, nil
}

func incrementCompose(_ *State, v1, v2 any) (any, error) {
	a, ok1 := asNumber(v1)
	b, ok2 := asNumber(v2)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: increment compose requires numeric deltas", oterr.ErrInvalidOpValue)
	}
	return a + b, nil
}

// ---- bit (~) ----

const bitLowMask = 0x7FFF // low 15 bits

// Bitmask returns the wire mask fragment for setting (on) or clearing
// (off) the flag at index, per spec.md §4.C: the low 15 bits are the
// "on" mask, the next 15 are the "off" mask.
func Bitmask(index int, on bool) uint32 {
	if on {
		return 1 << uint(index)
	}
	return 1 << uint(index+15)
}

func bitApply(s *State, op Op) error {
	maskF, ok := asNumber(op.Value)
	if !ok {
		return fmt.Errorf("%w: bit mask must be numeric", oterr.ErrInvalidOpValue)
	}
	mask := uint32(int64(maskF))
	onMask := mask & bitLowMask
	offMask := (mask >> 15) & bitLowMask

	current, err := jsonptr.Get(s.Root, op.Path)
	var base uint32
	if err == nil {
		cf, ok := asNumber(current)
		if !ok {
			return fmt.Errorf("%w: bit target must be numeric", oterr.ErrInvalidOpValue)
		}
		base = uint32(int64(cf))
	}
	newVal := (base &^ offMask) | onMask
	if err == nil {
		return setValueAtPath(s, op.Path, float64(newVal))
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: float64(newVal)})
}

func bitInvert(_ *State, op Op, oldValue any, existed bool, _ any, _ bool) (*Op, error) {
	if !existed {
		return &Op{Op: Remove, Path: op.Path}, nil
	}
	return &Op{Op: Replace, Path: op.Path, Value: oldValue}, nil
}

// bitCombine composes two bit masks following spec.md §4.C: a later
// explicit set always wins over an earlier clear of the same bit, and
// vice versa, so composition never loses an explicit clear under a
// later set of a different bit.
func bitCombine(a, b uint32) uint32 {
	aOn, aOff := a&bitLowMask, (a>>15)&bitLowMask
	bOn, bOff := b&bitLowMask, (b>>15)&bitLowMask
	onCombined := (aOn &^ bOff) | bOn
	offCombined := (aOff &^ bOn) | bOff
	return (offCombined << 15) | onCombined
}

func bitCompose(_ *State, v1, v2 any) (any, error) {
	a, ok1 := asNumber(v1)
	b, ok2 := asNumber(v2)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: bit compose requires numeric masks", oterr.ErrInvalidOpValue)
	}
	return float64(bitCombine(uint32(int64(a)), uint32(int64(b)))), nil
}

// ---- min / max ----

// maxApply applies iff current == null || new > current (spec.md §4.C): a
// non-null, non-numeric current isn't covered by the null exemption and is
// rejected the same way incrementApply/bitApply reject a non-numeric target.
func maxApply(s *State, op Op) error {
	newVal, ok := asNumber(op.Value)
	if !ok {
		return fmt.Errorf("%w: max value must be numeric", oterr.ErrInvalidOpValue)
	}
	current, err := jsonptr.Get(s.Root, op.Path)
	if err == nil && current != nil {
		cur, ok := asNumber(current)
		if !ok {
			return fmt.Errorf("%w: max target must be numeric or null", oterr.ErrInvalidOpValue)
		}
		if !(newVal > cur) {
			return nil // current already >= new, no-op
		}
	}
	if err == nil {
		return setValueAtPath(s, op.Path, newVal)
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: newVal})
}

// minApply applies iff current == null || new < current (spec.md §4.C); see
// maxApply for the non-numeric-current rejection.
func minApply(s *State, op Op) error {
	newVal, ok := asNumber(op.Value)
	if !ok {
		return fmt.Errorf("%w: min value must be numeric", oterr.ErrInvalidOpValue)
	}
	current, err := jsonptr.Get(s.Root, op.Path)
	if err == nil && current != nil {
		cur, ok := asNumber(current)
		if !ok {
			return fmt.Errorf("%w: min target must be numeric or null", oterr.ErrInvalidOpValue)
		}
		if !(newVal < cur) {
			return nil // current already <= new, no-op
		}
	}
	if err == nil {
		return setValueAtPath(s, op.Path, newVal)
	}
	return addApply(s, Op{Op: Add, Path: op.Path, Value: newVal})
}

func guardedInvert(_ *State, op Op, oldValue any, existed bool, _ any, _ bool) (*Op, error) {
	if !existed {
		return &Op{Op: Remove, Path: op.Path}, nil
	}
	return &Op{Op: Replace, Path: op.Path, Value: oldValue}, nil
}

func maxCompose(_ *State, v1, v2 any) (any, error) {
	a, ok1 := asNumber(v1)
	b, ok2 := asNumber(v2)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: max compose requires numeric values", oterr.ErrInvalidOpValue)
	}
	if b > a {
		return b, nil
	}
	return a, nil
}

func minCompose(_ *State, v1, v2 any) (any, error) {
	a, ok1 := asNumber(v1)
	b, ok2 := asNumber(v2)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: min compose requires numeric values", oterr.ErrInvalidOpValue)
	}
	if b < a {
		return b, nil
	}
	return a, nil
}
