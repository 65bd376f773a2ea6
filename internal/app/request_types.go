package app

import "github.com/shopspring/decimal"

// CartItemRequest identifies one product line of a cart session.
type CartItemRequest struct {
	SessionID string
	ProductID string
	Quantity  int
}

// InitializeInventoryRequest is the input for creating a product's inventory record.
type InitializeInventoryRequest struct {
	ProductID    string
	SKU          string
	InitialStock int
	ReorderLevel int
	CostPrice    *decimal.Decimal // optional
}

// AdjustInventoryRequest is the input for an administrative stock correction.
// Nil fields leave the stored value unchanged.
type AdjustInventoryRequest struct {
	ProductID     string
	StockQuantity int
	ReorderLevel  *int
	CostPrice     *decimal.Decimal
	SKU           *string
}

// RestockRequest is the input for recording a goods receipt.
type RestockRequest struct {
	ProductID string
	Quantity  int
}
