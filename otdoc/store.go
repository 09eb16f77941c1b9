package otdoc

import "github.com/agentflare-ai/go-otpatch/optype"

// Store is the persistence contract the rebase loop suspends on
// (spec.md §5's "suspension points only at the store boundary": load,
// save pending, commit atomically). No concrete implementation ships
// here — transport and persistence are out of scope (spec.md §1).
type Store interface {
	GetDoc(id string) (*optype.Snapshot, error)
	SavePendingChanges(id string, changes []optype.Change) error
	GetPendingChanges(id string) ([]optype.Change, error)
	ApplyServerChanges(id string, serverChanges []optype.Change, newPending []optype.Change) error
	GetCommittedRev(id string) (int, error)
	TrackDocs(ids []string) error
	UntrackDocs(ids []string) error
	ListDocs() ([]string, error)
	DeleteDoc(id string) error
	ConfirmDeleteDoc(id string) error
	Close() error
}

// Observer is the contract a UI binding or transport layer consumes to
// stay in sync with a Doc (spec.md §6). Doc implements it directly.
type Observer interface {
	Subscribe(fn func(state any)) (unsubscribe func())
	ApplyChanges(changes []optype.Change) error
	Import(snapshot optype.Snapshot) error
	GetPendingChanges() []optype.Change
	CommittedRev() int
}
