package domain

import "context"

// LedgerStore persists the donor ledger. Load returns an empty ledger when no
// state exists or the stored state is corrupt; only backend connectivity
// failures are returned as errors.
type LedgerStore interface {
	Load(ctx context.Context) (Ledger, error)
	Save(ctx context.Context, ledger Ledger) error
}

// ProcessedStore persists the processed-set with the same load policy as
// LedgerStore.
type ProcessedStore interface {
	Load(ctx context.Context) (ProcessedSet, error)
	Save(ctx context.Context, set ProcessedSet) error
}

// PointerStore persists the leaderboard message pointer. Load returns a zero
// pointer when none is stored.
type PointerStore interface {
	Load(ctx context.Context) (PresentationPointer, error)
	Save(ctx context.Context, ptr PresentationPointer) error
}

// StateStores bundles the three stores of one backend.
type StateStores struct {
	Ledger    LedgerStore
	Processed ProcessedStore
	Pointer   PointerStore
}
