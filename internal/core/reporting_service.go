package core

import (
	"context"
	"fmt"
)

// StockLevel is a read view of an inventory record with its computed availability.
type StockLevel struct {
	InventoryRecord
	AvailableQuantity int
}

// StockPage is one keyset page of the stock report.
type StockPage struct {
	Levels []StockLevel
	// NextAfter is the cursor for the following page; empty on the last page.
	NextAfter string
}

// ReconcileResult compares a record's reserved counter with its live holds.
type ReconcileResult struct {
	ProductID        string
	ReservedQuantity int
	HeldQuantity     int
	Drift            int // ReservedQuantity - HeldQuantity
}

func (r ReconcileResult) Consistent() bool { return r.Drift == 0 }

// ReportingService answers read-only questions about stock. Nothing here mutates the ledger.
type ReportingService interface {
	StockReport(ctx context.Context, afterProductID string, limit int) (*StockPage, error)
	BelowReorderLevel(ctx context.Context, limit int) ([]StockLevel, error)
	ReconcileReport(ctx context.Context, productID string) (*ReconcileResult, error)
}

type reportingService struct {
	store Store
}

func NewReportingService(store Store) ReportingService {
	return &reportingService{store: store}
}

func toStockLevel(rec InventoryRecord) StockLevel {
	return StockLevel{InventoryRecord: rec, AvailableQuantity: rec.AvailableQuantity()}
}

func (s *reportingService) StockReport(ctx context.Context, afterProductID string, limit int) (*StockPage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	recs, err := s.store.List(ctx, afterProductID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock levels: %w", err)
	}
	page := &StockPage{Levels: make([]StockLevel, 0, len(recs))}
	for _, rec := range recs {
		page.Levels = append(page.Levels, toStockLevel(rec))
	}
	if len(recs) == limit {
		page.NextAfter = recs[len(recs)-1].ProductID
	}
	return page, nil
}

// BelowReorderLevel drains up to limit entries of the ledger's lazy reorder scan.
// limit <= 0 means no limit.
func (s *reportingService) BelowReorderLevel(ctx context.Context, limit int) ([]StockLevel, error) {
	var levels []StockLevel
	for rec, err := range s.store.ListBelowReorderLevel(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to scan reorder levels: %w", err)
		}
		levels = append(levels, toStockLevel(rec))
		if limit > 0 && len(levels) >= limit {
			break
		}
	}
	return levels, nil
}

func (s *reportingService) ReconcileReport(ctx context.Context, productID string) (*ReconcileResult, error) {
	rec, err := s.store.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	held, err := s.store.SumHolds(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{
		ProductID:        productID,
		ReservedQuantity: rec.ReservedQuantity,
		HeldQuantity:     held,
		Drift:            rec.ReservedQuantity - held,
	}, nil
}
