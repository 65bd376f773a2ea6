package app

import "pharmstock/internal/core"

// CartResult is returned by GetCart.
type CartResult struct {
	SessionID  string
	Holds      []core.Reservation
	TotalUnits int
}

// CartItemResult is returned by cart line mutations.
type CartItemResult struct {
	Item *core.ReservationResult
}

// RenewCartResult is returned by RenewCart.
type RenewCartResult struct {
	Renewed int
}

// ClearCartResult is returned by ClearCart.
type ClearCartResult struct {
	Released int
}

// InventoryResult is returned by inventory writes.
type InventoryResult struct {
	Record *core.InventoryRecord
}

// InventoryDetailResult is returned by GetInventory.
type InventoryDetailResult struct {
	Record    *core.InventoryRecord
	Reconcile *core.ReconcileResult
}

// StockPageResult is returned by ListInventory.
type StockPageResult struct {
	Page *core.StockPage
}

// StockLevelsResult is returned by ListBelowReorderLevel.
type StockLevelsResult struct {
	Levels []core.StockLevel
}
