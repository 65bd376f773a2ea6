package app

import (
	"context"

	"pharmstock/internal/core"
)

// ApplicationService is the single interface the HTTP and CLI adapters call.
// It decouples transport from the inventory core. Implementations must contain
// no display or encoding logic of any kind.
type ApplicationService interface {
	// Health pings the backing store.
	Health(ctx context.Context) error

	// CheckAvailability answers whether qty units of a product could be reserved right now.
	// The answer is advisory; nothing is held.
	CheckAvailability(ctx context.Context, productID string, qty int) (*core.Availability, error)

	// GetCart returns every live hold of a cart session.
	GetCart(ctx context.Context, sessionID string) (*CartResult, error)

	// ReserveItem holds Quantity more units of a product for the session.
	ReserveItem(ctx context.Context, req CartItemRequest) (*CartItemResult, error)

	// ReleaseItem gives Quantity held units back.
	ReleaseItem(ctx context.Context, req CartItemRequest) (*CartItemResult, error)

	// SetItemQuantity moves the session's hold on a product to exactly Quantity units.
	// Zero removes the item.
	SetItemQuantity(ctx context.Context, req CartItemRequest) (*CartItemResult, error)

	// FulfillItem converts held units into a permanent stock decrement at checkout.
	FulfillItem(ctx context.Context, req CartItemRequest) (*CartItemResult, error)

	// RenewCart extends the expiry of every hold in the session.
	RenewCart(ctx context.Context, sessionID string) (*RenewCartResult, error)

	// ClearCart releases every hold in the session. Safe to call repeatedly.
	ClearCart(ctx context.Context, sessionID string) (*ClearCartResult, error)

	// InitializeInventory creates the ledger record for a new catalog product.
	InitializeInventory(ctx context.Context, req InitializeInventoryRequest) (*InventoryResult, error)

	// AdjustInventory sets the absolute stock level and optional metadata after a count.
	AdjustInventory(ctx context.Context, req AdjustInventoryRequest) (*InventoryResult, error)

	// RestockInventory records a goods receipt.
	RestockInventory(ctx context.Context, req RestockRequest) (*InventoryResult, error)

	// GetInventory returns a record together with its hold reconciliation.
	GetInventory(ctx context.Context, productID string) (*InventoryDetailResult, error)

	// ListInventory returns one page of the stock report.
	ListInventory(ctx context.Context, afterProductID string, limit int) (*StockPageResult, error)

	// ListBelowReorderLevel returns up to limit products at or below their reorder level.
	ListBelowReorderLevel(ctx context.Context, limit int) (*StockLevelsResult, error)

	// SweepExpired runs one expiry sweep immediately.
	SweepExpired(ctx context.Context) (*core.SweepStats, error)
}
