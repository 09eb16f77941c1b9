package optype

import (
	"fmt"

	"github.com/agentflare-ai/go-otpatch/oterr"
)

// MarshalCompact encodes op into its wire tuple (spec.md §6). move/copy
// are special-cased: their third slot carries From (there is no value
// slot for them), e.g. [>,path,from]. Every other opcode uses
// [opcode, path, value?, from?, soft?], trimming trailing elements that
// carry their zero value so e.g. a remove encodes as just [opcode, path].
//
// Value is trimmed only when it is absent (nil), never when it is a
// legitimate falsy JSON value (false, "", 0): op.Op == Remove is the
// only built-in with no Value, and that already marshals as nil.
func MarshalCompact(op Op) (CompactOp, error) {
	if op.Op == Move || op.Op == Copy {
		return CompactOp{op.Op, op.Path, op.From}, nil
	}
	tuple := CompactOp{op.Op, op.Path, op.Value, op.From, op.Soft}
	if !op.Soft {
		tuple = tuple[:4]
		if op.From == "" {
			tuple = tuple[:3]
			if op.Value == nil {
				tuple = tuple[:2]
			}
		}
	}
	return tuple, nil
}

// UnmarshalCompact decodes a wire tuple back into an Op.
func UnmarshalCompact(c CompactOp) (Op, error) {
	if len(c) < 2 {
		return Op{}, fmt.Errorf("%w: compact op needs at least [opcode, path]", oterr.ErrInvalidOpValue)
	}
	opcodeStr, ok := c[0].(string)
	if !ok {
		return Op{}, fmt.Errorf("%w: opcode must be a string", oterr.ErrUnknownOpcode)
	}
	path, ok := c[1].(string)
	if !ok {
		return Op{}, fmt.Errorf("%w: path must be a string", oterr.ErrInvalidPath)
	}

	op := Op{Op: Opcode(opcodeStr), Path: path}
	if op.Op == Move || op.Op == Copy {
		if len(c) > 2 {
			from, ok := c[2].(string)
			if !ok {
				return Op{}, fmt.Errorf("%w: from must be a string", oterr.ErrInvalidPath)
			}
			op.From = from
		}
		return op, nil
	}
	if len(c) > 2 {
		op.Value = c[2]
	}
	if len(c) > 3 {
		if from, ok := c[3].(string); ok {
			op.From = from
		} else if c[3] != nil {
			return Op{}, fmt.Errorf("%w: from must be a string", oterr.ErrInvalidPath)
		}
	}
	if len(c) > 4 {
		if soft, ok := c[4].(bool); ok {
			op.Soft = soft
		}
	}
	return op, nil
}
