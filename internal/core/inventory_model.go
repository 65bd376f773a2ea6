package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryRecord is the ledger row for one catalog product.
// Invariant: 0 <= ReservedQuantity <= StockQuantity.
type InventoryRecord struct {
	ProductID        string
	SKU              string
	StockQuantity    int
	ReservedQuantity int
	ReorderLevel     int
	CostPrice        *decimal.Decimal // informational only
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableQuantity is computed on read and never stored.
func (r InventoryRecord) AvailableQuantity() int {
	return r.StockQuantity - r.ReservedQuantity
}

// BelowReorderLevel reports whether the product should be restocked.
func (r InventoryRecord) BelowReorderLevel() bool {
	return r.StockQuantity-r.ReservedQuantity <= r.ReorderLevel
}

// Reservation is one session's hold on one product.
type Reservation struct {
	SessionID string
	ProductID string
	Quantity  int
	CreatedAt time.Time
	RenewedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the hold is past its expiry at now.
func (r Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// HoldCursor is a keyset position in the expiry-ordered hold listing.
type HoldCursor struct {
	ExpiresAt time.Time
	SessionID string
	ProductID string
}

// CursorOf returns the listing position of r.
func (r Reservation) CursorOf() HoldCursor {
	return HoldCursor{ExpiresAt: r.ExpiresAt, SessionID: r.SessionID, ProductID: r.ProductID}
}

// Less orders cursors by expiry, then session, then product.
func (c HoldCursor) Less(o HoldCursor) bool {
	if !c.ExpiresAt.Equal(o.ExpiresAt) {
		return c.ExpiresAt.Before(o.ExpiresAt)
	}
	if c.SessionID != o.SessionID {
		return c.SessionID < o.SessionID
	}
	return c.ProductID < o.ProductID
}

// InitializeRequest is the input for creating a product's inventory record.
type InitializeRequest struct {
	ProductID    string
	SKU          string
	InitialStock int
	ReorderLevel int
	CostPrice    *decimal.Decimal
}

// AdjustStockRequest is the administrative edit of a record.
// Nil optional fields leave the stored value unchanged.
type AdjustStockRequest struct {
	ProductID     string
	StockQuantity int
	ReorderLevel  *int
	CostPrice     *decimal.Decimal
	SKU           *string
}

// Availability is the advisory answer to CheckAvailability.
type Availability struct {
	ProductID         string
	Requested         int
	Available         bool
	AvailableQuantity int
}

// ReservationResult describes the state after a cart mutation.
// ReservedQuantity is the product-wide total, SessionQuantity what the caller's session holds.
type ReservationResult struct {
	ProductID         string
	SessionQuantity   int
	ReservedQuantity  int
	StockQuantity     int
	AvailableQuantity int
	ExpiresAt         *time.Time
}

func resultFrom(rec *InventoryRecord, hold *Reservation) *ReservationResult {
	res := &ReservationResult{
		ProductID:         rec.ProductID,
		ReservedQuantity:  rec.ReservedQuantity,
		StockQuantity:     rec.StockQuantity,
		AvailableQuantity: rec.AvailableQuantity(),
	}
	if hold != nil {
		res.SessionQuantity = hold.Quantity
		exp := hold.ExpiresAt
		res.ExpiresAt = &exp
	}
	return res
}
