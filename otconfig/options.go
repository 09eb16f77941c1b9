// Package otconfig holds the small set of tunables the patch algebra and
// rebase loop accept. There is no config-file loader here: these are a
// handful of in-process booleans and sizes passed by value, not the
// multi-source layered config a full service needs.
package otconfig

// Options configures applyPatch and the rebase loop.
type Options struct {
	// Strict aborts ApplyPatch on the first failing op. When false
	// (the default used for transform-derived patches), a failing op is
	// skipped and the rest of the patch still applies.
	Strict bool

	// MaxStorageBytes bounds the serialized size of a single Change. A
	// local edit whose serialized ops exceed this is split into multiple
	// Changes sharing one BatchID. Zero means unbounded.
	MaxStorageBytes int

	// CacheSize is a hint for callers folding large change histories
	// through repeated ComposePatch calls: the number of composed ops to
	// accumulate before flushing a chunk, rather than composing an
	// unbounded history in one pass. ComposePatch itself is stateless and
	// does not read this field; it is carried here so a Store/Doc-level
	// driver has a single place to configure the behavior. Zero means
	// unbounded (one pass).
	CacheSize int
}

// Default returns the zero-value Options: lenient apply, unbounded
// change size, unbounded compose cache.
func Default() Options {
	return Options{}
}
