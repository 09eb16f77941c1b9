// Package otdoc implements the OT rebase loop of spec.md §4.E: a Doc
// holds the committed revision, the pending (unacknowledged) local
// changes, and the live state those pending changes produce.
//
// Grounded two ways: the teacher's Diff/Prepare/Apply/Revert round-trip
// (forward/reverse patch pairs) shapes "apply a committed batch, keep a
// reversible pending tail"; other_examples' collaboration.OTEngine
// (Document{Version,History}, OTEngine.Apply transforming against
// intervening history) is the clearest in-pack precedent for
// committedRev+pending bookkeeping and "transform incoming against
// history, then reapply" — IntegrateServerChanges follows its shape,
// generalized from single-document plain-text ops to the full
// dialect plus multi-change batching and splitting.
package otdoc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentflare-ai/go-otpatch/optype"
	"github.com/agentflare-ai/go-otpatch/otconfig"
	"github.com/agentflare-ai/go-otpatch/otdiff"
	"github.com/agentflare-ai/go-otpatch/otpatch"
	"github.com/agentflare-ai/go-otpatch/oterr"
)

// changeEnvelopeOverhead approximates the JSON bytes a Change's fields
// other than Ops contribute (id, rev, baseRev, created, batchId),
// leaving headroom in a budget check without marshaling the whole
// struct on every op.
const changeEnvelopeOverhead = 96

// Doc is a single collaboratively-edited document. Methods are not
// goroutine-safe on their own (spec.md §5): serializing local edits and
// incoming server changes through a per-document FIFO queue is the
// caller's responsibility.
type Doc struct {
	ID       string
	registry *optype.Registry
	opts     otconfig.Options
	logger   *slog.Logger

	committedRev   int
	committedState any
	pending        []optype.Change
	state          any

	subscribers []func(any)
}

// NewDoc starts a Doc at committedRev with no pending changes. logger
// may be nil, in which case a discard logger is used.
func NewDoc(id string, initialState any, committedRev int, registry *optype.Registry, opts otconfig.Options, logger *slog.Logger) *Doc {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	return &Doc{
		ID:             id,
		registry:       registry,
		opts:           opts,
		logger:         logger,
		committedRev:   committedRev,
		committedState: initialState,
		state:          initialState,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// CommittedRev returns the last server-acknowledged revision.
func (d *Doc) CommittedRev() int { return d.committedRev }

// GetPendingChanges returns a copy of the currently unacknowledged changes.
func (d *Doc) GetPendingChanges() []optype.Change {
	out := make([]optype.Change, len(d.pending))
	copy(out, d.pending)
	return out
}

// State returns the document's current live value (committed + pending).
func (d *Doc) State() any { return d.state }

// Subscribe registers fn to be called with the current state whenever
// it changes, returning an unsubscribe function.
func (d *Doc) Subscribe(fn func(state any)) func() {
	d.subscribers = append(d.subscribers, fn)
	idx := len(d.subscribers) - 1
	return func() {
		d.subscribers[idx] = nil
	}
}

func (d *Doc) notify() {
	for _, fn := range d.subscribers {
		if fn != nil {
			fn(d.state)
		}
	}
}

func (d *Doc) lastPendingRev() int {
	if len(d.pending) == 0 {
		return d.committedRev
	}
	return d.pending[len(d.pending)-1].Rev
}

// LocalEdit applies ops to the live document, wraps them into one or
// more Changes (splitting at maxStorageBytes per spec.md §4.E when
// configured), appends them to pending, and returns the new Changes.
func (d *Doc) LocalEdit(ops []optype.Op, metadata map[string]any) ([]optype.Change, error) {
	newState, err := otpatch.ApplyPatch(d.state, ops, d.opts.Strict, d.registry)
	if err != nil {
		d.logger.Warn("local edit rejected, state left unchanged", "doc", d.ID, "err", err)
		return nil, err
	}

	batches, err := splitOpsByBudget(ops, d.opts.MaxStorageBytes)
	if err != nil {
		d.logger.Warn("local edit rejected, state left unchanged", "doc", d.ID, "err", err)
		return nil, err
	}

	var batchID string
	if len(batches) > 1 {
		batchID = uuid.NewString()
	}

	rev := d.lastPendingRev()
	baseRev := d.committedRev
	created := time.Now().UnixMilli()

	changes := make([]optype.Change, 0, len(batches))
	for _, batch := range batches {
		rev++
		changes = append(changes, optype.Change{
			ID:       uuid.NewString(),
			Rev:      rev,
			BaseRev:  baseRev,
			Ops:      batch,
			Metadata: metadata,
			Created:  created,
			BatchID:  batchID,
		})
	}

	d.state = newState
	d.pending = append(d.pending, changes...)
	d.notify()
	return changes, nil
}

// LocalEditFromDraft diffs the document's current state against after and
// applies the resulting ops as a LocalEdit — for callers that mutate a
// local draft copy directly rather than building Ops by hand (spec.md
// §4.D). Structural diffing only covers add/remove/replace; an editor
// that wants increment/bit/@txt ops still needs to call LocalEdit itself.
func (d *Doc) LocalEditFromDraft(after any, metadata map[string]any) ([]optype.Change, error) {
	ops, err := otdiff.Diff(d.state, after)
	if err != nil {
		return nil, fmt.Errorf("diffing draft: %w", err)
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return d.LocalEdit(ops, metadata)
}

// ApplyChanges satisfies Observer: it treats changes as newly-committed
// server changes and integrates them.
func (d *Doc) ApplyChanges(changes []optype.Change) error {
	return d.IntegrateServerChanges(changes)
}

// Import replaces the Doc's entire state with snapshot, recomputing the
// live view from its committed state plus its pending changes.
func (d *Doc) Import(snapshot optype.Snapshot) error {
	state := snapshot.State
	for _, c := range snapshot.Changes {
		var err error
		state, err = otpatch.ApplyPatch(state, c.Ops, d.opts.Strict, d.registry)
		if err != nil {
			d.logger.Warn("import rejected, state left unchanged", "doc", d.ID, "err", err)
			return err
		}
	}
	d.committedRev = snapshot.Rev
	d.committedState = snapshot.State
	d.pending = append([]optype.Change(nil), snapshot.Changes...)
	d.state = state
	d.notify()
	return nil
}

// IntegrateServerChanges folds newly-committed serverChanges into the
// document (spec.md §4.E points 1-6): acknowledge any pending change the
// server echoes back, transform each surviving pending change's ops
// against the server's (independently per change, since a rebase can
// drop ops and change a change's own op count), and reapply the server
// ops onto the pre-pending committed state.
func (d *Doc) IntegrateServerChanges(serverChanges []optype.Change) error {
	if len(serverChanges) == 0 {
		return nil
	}
	if d.committedRev != serverChanges[0].BaseRev {
		err := fmt.Errorf("%w: doc at rev %d, server change based on %d (caller must Import a fresh snapshot)",
			oterr.ErrPatchMismatch, d.committedRev, serverChanges[0].BaseRev)
		d.logger.Warn("server changes rejected, state left unchanged", "doc", d.ID, "err", err)
		return err
	}

	acked := make(map[string]bool, len(serverChanges))
	for _, c := range serverChanges {
		acked[c.ID] = true
	}

	survivors := make([]optype.Change, 0, len(d.pending))
	for _, c := range d.pending {
		if !acked[c.ID] {
			survivors = append(survivors, c)
		}
	}

	var serverOps []optype.Op
	for _, c := range serverChanges {
		serverOps = append(serverOps, c.Ops...)
	}

	// Transform each survivor's ops against serverOps independently, not
	// concatenated-then-resliced by its original op count: a handler's
	// Transform can drop ops (a descendant of a path the server replaced,
	// a move whose source the server removed, ...), so the rebased op
	// count for one change can differ from what it started with. Slicing
	// a shared rebasedLocal by pre-transform boundaries would then either
	// panic (too few ops left) or attribute one change's ops to another.
	var rebasedLocal []optype.Op
	newPending := make([]optype.Change, 0, len(survivors))
	for _, c := range survivors {
		rebasedOps := otpatch.TransformPatch(nil, serverOps, c.Ops, d.registry)
		rebasedLocal = append(rebasedLocal, rebasedOps...)
		newPending = append(newPending, optype.Change{
			ID:       c.ID,
			Ops:      rebasedOps,
			Metadata: c.Metadata,
			Created:  c.Created,
			BatchID:  c.BatchID,
			// Rev/BaseRev filled in below once newCommittedRev is known.
		})
	}

	newCommittedState, err := otpatch.ApplyPatch(d.committedState, serverOps, d.opts.Strict, d.registry)
	if err != nil {
		d.logger.Warn("server changes rejected, state left unchanged", "doc", d.ID, "err", err)
		return err
	}
	newState, err := otpatch.ApplyPatch(newCommittedState, rebasedLocal, d.opts.Strict, d.registry)
	if err != nil {
		d.logger.Warn("server changes rejected, state left unchanged", "doc", d.ID, "err", err)
		return err
	}

	newCommittedRev := serverChanges[len(serverChanges)-1].Rev
	for i := range newPending {
		newPending[i].BaseRev = newCommittedRev
		newPending[i].Rev = newCommittedRev + i + 1
	}

	d.committedRev = newCommittedRev
	d.committedState = newCommittedState
	d.pending = newPending
	d.state = newState
	d.notify()
	return nil
}

// splitOpsByBudget partitions ops into batches whose marshaled size
// stays under budget (spec.md §4.E "oversize change batching"). budget
// <= 0 means unlimited: ops return as a single batch.
func splitOpsByBudget(ops []optype.Op, budget int) ([][]optype.Op, error) {
	if budget <= 0 {
		return [][]optype.Op{ops}, nil
	}

	var batches [][]optype.Op
	var current []optype.Op
	currentSize := changeEnvelopeOverhead

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentSize = changeEnvelopeOverhead
		}
	}

	for _, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", oterr.ErrBudgetExceeded, err)
		}
		opSize := len(raw)

		if changeEnvelopeOverhead+opSize > budget {
			if op.Op == optype.Text {
				if frags, ok := splitLongTextOp(op, budget); ok {
					flush()
					for _, frag := range frags {
						batches = append(batches, []optype.Op{frag})
					}
					continue
				}
			}
			return nil, fmt.Errorf("%w: op at %q is %d bytes, budget is %d", oterr.ErrBudgetExceeded, op.Path, opSize, budget)
		}

		if currentSize+opSize > budget {
			flush()
		}
		current = append(current, op)
		currentSize += opSize
	}
	flush()
	return batches, nil
}

// splitLongTextOp splits a single @txt op whose delta is a bare insert
// (no surrounding retain/delete) into a sequence of smaller @txt ops
// that reproduce the same edit: each fragment after the first retains
// over the text already inserted by the prior fragments. Returns false
// if the op isn't a splittable bare-insert shape.
func splitLongTextOp(op optype.Op, budget int) ([]optype.Op, bool) {
	delta, err := optype.ToTextOps(op.Value)
	if err != nil || len(delta) != 1 {
		return nil, false
	}
	text, ok := delta[0].Insert.(string)
	if !ok || delta[0].Retain != 0 || delta[0].Delete != 0 {
		return nil, false
	}
	attrs := delta[0].Attributes

	budgetForText := budget - changeEnvelopeOverhead - 64 // headroom for path/attrs/JSON punctuation
	if budgetForText <= 0 {
		return nil, false
	}
	maxRunes := budgetForText / 4 // conservative, UTF-8 worst case
	if maxRunes < 1 {
		return nil, false
	}

	runes := []rune(text)
	var frags []optype.Op
	for pos := 0; pos < len(runes); {
		end := pos + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		var chunk []optype.TextOp
		if pos > 0 {
			chunk = append(chunk, optype.TextOp{Retain: pos})
		}
		chunk = append(chunk, optype.TextOp{Insert: string(runes[pos:end]), Attributes: attrs})
		frags = append(frags, optype.Op{Op: optype.Text, Path: op.Path, Value: optype.TextOpsToValue(chunk)})
		pos = end
	}
	return frags, true
}
