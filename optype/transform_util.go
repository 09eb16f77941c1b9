package optype

import (
	"strconv"
	"strings"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
)

// arrayRef names the array a path addresses an element of: the path to
// the array itself, plus the numeric index addressed. index is -1 for a
// "-" append token; isArray is false for "-" and for any non-numeric
// last token.
type arrayRef struct {
	arrayPath string
	index     int
	isArray   bool
}

// analyzeArrayRef splits path into its parent-array path and index, when
// the last token looks like an array element reference. "-" resolves to
// -1 here (append has no fixed index to shift siblings against).
func analyzeArrayRef(path string) arrayRef {
	p, err := jsonptr.New(path)
	if err != nil || len(p) == 0 {
		return arrayRef{isArray: false}
	}
	last := p[len(p)-1]
	if last == "-" {
		return arrayRef{arrayPath: jsonptr.Pointer(p[:len(p)-1]).String(), index: -1, isArray: false}
	}
	idx, err := strconv.Atoi(last)
	if err != nil || idx < 0 {
		return arrayRef{isArray: false}
	}
	return arrayRef{arrayPath: jsonptr.Pointer(p[:len(p)-1]).String(), index: idx, isArray: true}
}

// shiftIndexIfSameArray rewrites *path in place, adding delta to its
// final index when path addresses an element of arrayPath at position
// >= pivot.
func shiftIndexIfSameArray(path *string, arrayPath string, pivot int, delta int) {
	if *path == "" {
		return
	}
	ref := analyzeArrayRef(*path)
	if !ref.isArray || ref.arrayPath != arrayPath || ref.index < pivot {
		return
	}
	*path = jsonptr.Join(arrayPath, strconv.Itoa(ref.index+delta))
}

// isRootedAt reports whether path equals prefix or is a strict
// descendant of it (prefix + "/" + ...).
func isRootedAt(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if prefix == "" {
		return path != ""
	}
	return strings.HasPrefix(path, prefix+"/")
}

// isStrictDescendant reports whether path is strictly nested under
// prefix (excludes equality).
func isStrictDescendant(path, prefix string) bool {
	if prefix == "" {
		return path != ""
	}
	return strings.HasPrefix(path, prefix+"/")
}

// rebasePrefix rewrites path by replacing a leading fromPrefix with
// toPrefix when path equals fromPrefix or is nested under it, reporting
// whether a rewrite happened.
func rebasePrefix(path, fromPrefix, toPrefix string) (string, bool) {
	if path == fromPrefix {
		return toPrefix, true
	}
	if fromPrefix != "" && strings.HasPrefix(path, fromPrefix+"/") {
		return toPrefix + path[len(fromPrefix):], true
	}
	return path, false
}

// isEmptyContainer reports whether v is an empty JSON object or array,
// the shape spec.md §4.C's soft-write rule treats as "create if absent"
// scaffolding rather than real content.
func isEmptyContainer(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// sameContainerShape reports whether a and b are both empty objects or
// both empty arrays (not one of each).
func sameContainerShape(a, b any) bool {
	_, aIsMap := a.(map[string]any)
	_, bIsMap := b.(map[string]any)
	_, aIsSlice := a.([]any)
	_, bIsSlice := b.([]any)
	return (aIsMap && bIsMap) || (aIsSlice && bIsSlice)
}

// identityTransform returns otherOps unchanged: the default for
// operators whose effect commutes with everything else (increment, bit,
// min, max) and for test, which never rewrites concurrent ops.
func identityTransform(_ *State, _ Op, otherOps []Op) ([]Op, error) {
	return otherOps, nil
}
