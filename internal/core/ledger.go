package core

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// reorderScanPageSize bounds how many records ListBelowReorderLevel loads per page.
const reorderScanPageSize = 200

// applyDeltaTo returns rec with both deltas applied, or an *InsufficientStockError when
// the result would break 0 <= reserved <= stock.
func applyDeltaTo(rec InventoryRecord, stockDelta, reservedDelta int) (InventoryRecord, error) {
	stock := rec.StockQuantity + stockDelta
	reserved := rec.ReservedQuantity + reservedDelta
	if stock < 0 || reserved < 0 || reserved > stock {
		return rec, &InsufficientStockError{
			ProductID: rec.ProductID,
			Requested: requestedFromDeltas(stockDelta, reservedDelta),
			Available: rec.AvailableQuantity(),
		}
	}
	rec.StockQuantity = stock
	rec.ReservedQuantity = reserved
	return rec, nil
}

// requestedFromDeltas reports the quantity a rejected delta was trying to claim.
func requestedFromDeltas(stockDelta, reservedDelta int) int {
	if reservedDelta > 0 {
		return reservedDelta
	}
	if stockDelta < 0 {
		return -stockDelta
	}
	return -reservedDelta
}

func validateInitialize(req InitializeRequest) error {
	if strings.TrimSpace(req.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.SKU) == "" {
		return fmt.Errorf("%w: sku is required", ErrInvalidArgument)
	}
	if req.InitialStock < 0 {
		return fmt.Errorf("%w: initial stock %d", ErrInvalidStockLevel, req.InitialStock)
	}
	if req.ReorderLevel < 0 {
		return fmt.Errorf("%w: reorder level cannot be negative, got %d", ErrInvalidArgument, req.ReorderLevel)
	}
	if req.CostPrice != nil && req.CostPrice.IsNegative() {
		return fmt.Errorf("%w: cost price cannot be negative, got %s", ErrInvalidArgument, req.CostPrice)
	}
	return nil
}

// Restock records a goods receipt of qty units. It only ever raises stock, so it cannot
// fail the reservation invariant.
func Restock(ctx context.Context, ledger Ledger, productID string, qty int) (*InventoryRecord, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidQuantity, qty)
	}
	return ledger.ApplyDelta(ctx, productID, qty, 0)
}

type pageFunc func(ctx context.Context, afterProductID string, limit int) ([]InventoryRecord, error)

// scanBelowReorderLevel walks every record by keyset pages and yields those at or below
// their reorder level. The sequence is restartable: each range begins a fresh scan.
func scanBelowReorderLevel(ctx context.Context, page pageFunc) iter.Seq2[InventoryRecord, error] {
	return func(yield func(InventoryRecord, error) bool) {
		after := ""
		for {
			recs, err := page(ctx, after, reorderScanPageSize)
			if err != nil {
				yield(InventoryRecord{}, err)
				return
			}
			for _, rec := range recs {
				if !rec.BelowReorderLevel() {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
			if len(recs) < reorderScanPageSize {
				return
			}
			after = recs[len(recs)-1].ProductID
		}
	}
}
