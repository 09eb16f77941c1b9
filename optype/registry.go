package optype

// ApplyFunc mutates s to reflect op, or returns an error (spec.md §4.A's
// "apply(state, path, value, from, soft) -> void | error-string").
type ApplyFunc func(s *State, op Op) error

// InvertFunc produces the inverse of op given the value and container it
// overwrote, captured from the pre-apply state. existed reports whether
// oldValue was actually present (vs. the zero value because the target
// didn't exist). A nil *Op with a nil error means "no inverse needed"
// (e.g. test never mutates).
type InvertFunc func(s *State, op Op, oldValue any, existed bool, parent any, isIndex bool) (*Op, error)

// TransformFunc rebases otherOps — a list of ops authored concurrently
// with, but intended to apply after, thisOp — so they compose correctly
// once thisOp has already been applied.
type TransformFunc func(s *State, thisOp Op, otherOps []Op) ([]Op, error)

// ComposeFunc collapses two adjacent same-path, same-opcode values into
// one equivalent value. Handlers without a meaningful compose (most
// built-ins) leave this nil; ComposePatch then never merges their
// neighbors.
type ComposeFunc func(s *State, v1, v2 any) (any, error)

// Handler is the four-morphism quadruple spec.md §3 calls a "type
// handler": apply/invert/transform are mandatory, compose is optional.
type Handler struct {
	Like      Class
	Apply     ApplyFunc
	Invert    InvertFunc
	Transform TransformFunc
	Compose   ComposeFunc
}

// Registry maps an opcode to its handler. Construction overlays an
// optional user-supplied map of custom handlers onto the built-ins
// (spec.md §4.B); custom entries win on collision with a built-in
// opcode, and the returned Registry is immutable thereafter (spec.md §5
// "Registry instances are immutable post-construction" — callers must
// not mutate the map backing it after NewRegistry returns).
type Registry struct {
	handlers map[Opcode]Handler
}

// NewRegistry builds a registry from the built-in handlers overlaid with
// custom (custom may be nil).
func NewRegistry(custom map[Opcode]Handler) *Registry {
	merged := make(map[Opcode]Handler, len(builtinHandlers)+len(custom))
	for op, h := range builtinHandlers {
		merged[op] = h
	}
	for op, h := range custom {
		merged[op] = h
	}
	return &Registry{handlers: merged}
}

// Lookup returns the handler for opcode and whether it was found.
func (r *Registry) Lookup(opcode Opcode) (Handler, bool) {
	h, ok := r.handlers[opcode]
	return h, ok
}
