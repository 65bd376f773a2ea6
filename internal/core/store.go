package core

import (
	"context"
	"iter"
	"time"
)

// Ledger persists InventoryRecords. ApplyDelta, Initialize and AdjustStock are the only
// paths that may write stock or reserved quantities.
type Ledger interface {
	Get(ctx context.Context, productID string) (*InventoryRecord, error)
	Initialize(ctx context.Context, req InitializeRequest) (*InventoryRecord, error)
	// ApplyDelta applies both deltas in one atomic step or not at all. A result that would
	// break 0 <= reserved <= stock returns an *InsufficientStockError.
	ApplyDelta(ctx context.Context, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error)
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*InventoryRecord, error)
	// ListBelowReorderLevel yields records whose available quantity is at or below the
	// reorder level. Each range over the sequence restarts the scan.
	ListBelowReorderLevel(ctx context.Context) iter.Seq2[InventoryRecord, error]
	// List returns up to limit records ordered by product ID, after afterProductID.
	List(ctx context.Context, afterProductID string, limit int) ([]InventoryRecord, error)
}

// Holds is the read side of session reservations.
type Holds interface {
	GetHold(ctx context.Context, sessionID, productID string) (*Reservation, error)
	SessionHolds(ctx context.Context, sessionID string) ([]Reservation, error)
	// ExpiredHolds returns up to limit holds with ExpiresAt before now, ordered by
	// (ExpiresAt, SessionID, ProductID) and strictly after the cursor when one is given.
	ExpiredHolds(ctx context.Context, now time.Time, after *HoldCursor, limit int) ([]Reservation, error)
	SumHolds(ctx context.Context, productID string) (int, error)
}

// Tx groups ledger and hold writes for a single product into one atomic unit.
type Tx interface {
	ApplyDelta(ctx context.Context, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error)
	GetHold(ctx context.Context, sessionID, productID string) (*Reservation, error)
	// AddHold adds qty to the session's hold, creating it if needed, and sets its expiry.
	AddHold(ctx context.Context, sessionID, productID string, qty int, now, expiresAt time.Time) (*Reservation, error)
	// ReduceHold subtracts qty from the hold, deleting it at zero. Returns ErrExceedsHeld
	// if the session holds fewer than qty; the returned hold is nil once deleted.
	ReduceHold(ctx context.Context, sessionID, productID string, qty int) (*Reservation, error)
	// RenewHold moves the hold's expiry forward. Returns ErrExceedsHeld if there is no hold.
	RenewHold(ctx context.Context, sessionID, productID string, now, expiresAt time.Time) (*Reservation, error)
	// DeleteExpiredHold removes the hold only if it is still expired at now and still
	// holds exactly qty; otherwise it returns errHoldChanged.
	DeleteExpiredHold(ctx context.Context, sessionID, productID string, qty int, now time.Time) error
}

// Store is a Ledger plus hold bookkeeping with per-product atomic units.
type Store interface {
	Ledger
	Holds
	// Atomic runs fn so that every write made through tx commits together or not at all.
	// All calls made through tx must concern productID.
	Atomic(ctx context.Context, productID string, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
