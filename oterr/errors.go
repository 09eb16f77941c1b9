// Package oterr defines the error taxonomy shared by the patch algebra
// and the rebase loop: sentinel values wrapped with context via fmt.Errorf,
// the same idiom the underlying jsonpointer-based patch helpers use
// throughout (wrap with "%w", never swallow the cause).
package oterr

import "errors"

// Sentinel errors classifying why an operation failed. Use errors.Is
// against these after unwrapping a returned error.
var (
	// ErrInvalidPath means a JSON Pointer string was malformed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathNotFound means an apply target could not be resolved.
	ErrPathNotFound = errors.New("path not found")

	// ErrInvalidArrayIndex means a path token was non-numeric, not "-",
	// or numerically out of range for the target array.
	ErrInvalidArrayIndex = errors.New("invalid array index")

	// ErrInvalidOpValue means an operator's value was the wrong shape,
	// e.g. a @txt insert that is neither a string nor an object.
	ErrInvalidOpValue = errors.New("invalid op value")

	// ErrTestFailed means a "test" operation's deep-equality check failed.
	ErrTestFailed = errors.New("test failed")

	// ErrUnknownOpcode means no handler is registered for an opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrPatchMismatch means invert's preconditions were violated (the
	// op's recorded prior state doesn't match what invert needs).
	ErrPatchMismatch = errors.New("patch mismatch")

	// ErrBudgetExceeded means a change could not be split to fit
	// maxStorageBytes.
	ErrBudgetExceeded = errors.New("budget exceeded")
)
