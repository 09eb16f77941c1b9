// Package jsonptr provides JSON-Pointer path parsing and array-index
// arithmetic shared by every operator handler.
//
// It wraps github.com/agentflare-ai/go-jsonpointer for token parsing and
// structural get/set/remove, and adds the OT-specific pieces the patch
// algebra needs on top: the "-" append sentinel, parent-resolution for
// add/remove/replace, and token escaping for synthesized paths.
package jsonptr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentflare-ai/go-jsonpointer"
)

// Pointer re-exports the tokenized pointer type from go-jsonpointer.
type Pointer = jsonpointer.Pointer

// New parses a JSON Pointer string into its tokens.
func New(path string) (Pointer, error) {
	return jsonpointer.New(path)
}

// Get resolves path against document.
func Get(document any, path string) (any, error) {
	return jsonpointer.Get(document, path)
}

// Set returns document with the value at path replaced or created.
func Set(document any, path string, value any) (any, error) {
	return jsonpointer.Set(document, path, value)
}

// Remove returns document with the node at path removed.
func Remove(document any, path string) (any, error) {
	return jsonpointer.Remove(document, path)
}

// ParseArrayIndex parses a decimal array-index token.
func ParseArrayIndex(token string) (uint64, error) {
	return jsonpointer.ParseArrayIndex(token)
}

// IsRoot reports whether path addresses the document root.
func IsRoot(path string) bool {
	p, err := New(path)
	if err != nil {
		return false
	}
	return len(p) == 0
}

// EscapeToken applies RFC 6901 escaping for '~' and '/'.
func EscapeToken(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

// Join appends token onto base as an escaped RFC 6901 segment.
func Join(base, token string) string {
	if base == "" {
		return "/" + EscapeToken(token)
	}
	return base + "/" + EscapeToken(token)
}

// ParentPath returns the pointer string for all but the last token of path.
// Root path returns "".
func ParentPath(path string) (string, error) {
	p, err := New(path)
	if err != nil {
		return "", err
	}
	if len(p) == 0 {
		return "", nil
	}
	return Pointer(p[0 : len(p)-1]).String(), nil
}

// LastToken returns the final raw token of path, or "" for the root.
func LastToken(path string) (string, error) {
	p, err := New(path)
	if err != nil {
		return "", err
	}
	if len(p) == 0 {
		return "", nil
	}
	return p[len(p)-1], nil
}

// ArrayIndex classifies token against an array of length arrLen per
// spec.md §4.A: "-" means append (returns arrLen); a decimal token
// returns its integer; anything else is invalid (-1).
func ArrayIndex(token string, arrLen int) int {
	if token == "-" {
		return arrLen
	}
	idx, err := ParseArrayIndex(token)
	if err != nil {
		return -1
	}
	return int(idx)
}

// ResolveAppendPath rewrites a trailing "-" token in path into the concrete
// index it currently denotes within document, leaving other paths unchanged.
func ResolveAppendPath(document any, path string) (string, error) {
	p, err := New(path)
	if err != nil {
		return "", err
	}
	if len(p) == 0 {
		return path, nil
	}
	last := p[len(p)-1]
	if last != "-" {
		return path, nil
	}
	parentPath, err := ParentPath(path)
	if err != nil {
		return "", err
	}
	parent, err := Get(document, parentPath)
	if err != nil {
		return "", fmt.Errorf("parent path %q not found for '-': %w", parentPath, err)
	}
	arr, ok := parent.([]any)
	if !ok {
		return "", fmt.Errorf("path %q with '-' is not an array parent", parentPath)
	}
	idxStr := strconv.Itoa(len(arr))
	if parentPath == "" {
		return "/" + idxStr, nil
	}
	return parentPath + "/" + idxStr, nil
}
