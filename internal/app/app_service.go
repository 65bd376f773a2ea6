package app

import (
	"context"
	"errors"
	"fmt"

	"pharmstock/internal/core"
)

var errSweeperUnavailable = errors.New("sweeper not configured")

type appService struct {
	store        core.Store
	reservations core.ReservationService
	reporting    core.ReportingService
	sweeper      *core.Sweeper
}

// NewAppService constructs an appService that satisfies ApplicationService.
// sweeper may be nil when the caller never triggers manual sweeps.
func NewAppService(
	store core.Store,
	reservations core.ReservationService,
	reporting core.ReportingService,
	sweeper *core.Sweeper,
) ApplicationService {
	return &appService{
		store:        store,
		reservations: reservations,
		reporting:    reporting,
		sweeper:      sweeper,
	}
}

func (s *appService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *appService) CheckAvailability(ctx context.Context, productID string, qty int) (*core.Availability, error) {
	return s.reservations.CheckAvailability(ctx, productID, qty)
}

// GetCart returns the session's holds and the total units they cover.
func (s *appService) GetCart(ctx context.Context, sessionID string) (*CartResult, error) {
	holds, err := s.reservations.SessionHolds(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart %s: %w", sessionID, err)
	}
	res := &CartResult{SessionID: sessionID, Holds: holds}
	for _, h := range holds {
		res.TotalUnits += h.Quantity
	}
	return res, nil
}

func (s *appService) ReserveItem(ctx context.Context, req CartItemRequest) (*CartItemResult, error) {
	item, err := s.reservations.Reserve(ctx, req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return &CartItemResult{Item: item}, nil
}

func (s *appService) ReleaseItem(ctx context.Context, req CartItemRequest) (*CartItemResult, error) {
	item, err := s.reservations.Release(ctx, req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return &CartItemResult{Item: item}, nil
}

func (s *appService) SetItemQuantity(ctx context.Context, req CartItemRequest) (*CartItemResult, error) {
	item, err := s.reservations.SetQuantity(ctx, req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return &CartItemResult{Item: item}, nil
}

func (s *appService) FulfillItem(ctx context.Context, req CartItemRequest) (*CartItemResult, error) {
	item, err := s.reservations.Fulfill(ctx, req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return &CartItemResult{Item: item}, nil
}

func (s *appService) RenewCart(ctx context.Context, sessionID string) (*RenewCartResult, error) {
	n, err := s.reservations.RenewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &RenewCartResult{Renewed: n}, nil
}

func (s *appService) ClearCart(ctx context.Context, sessionID string) (*ClearCartResult, error) {
	n, err := s.reservations.ReleaseAllForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ClearCartResult{Released: n}, nil
}

func (s *appService) InitializeInventory(ctx context.Context, req InitializeInventoryRequest) (*InventoryResult, error) {
	rec, err := s.store.Initialize(ctx, core.InitializeRequest{
		ProductID:    req.ProductID,
		SKU:          req.SKU,
		InitialStock: req.InitialStock,
		ReorderLevel: req.ReorderLevel,
		CostPrice:    req.CostPrice,
	})
	if err != nil {
		return nil, err
	}
	return &InventoryResult{Record: rec}, nil
}

func (s *appService) AdjustInventory(ctx context.Context, req AdjustInventoryRequest) (*InventoryResult, error) {
	rec, err := s.store.AdjustStock(ctx, core.AdjustStockRequest{
		ProductID:     req.ProductID,
		StockQuantity: req.StockQuantity,
		ReorderLevel:  req.ReorderLevel,
		CostPrice:     req.CostPrice,
		SKU:           req.SKU,
	})
	if err != nil {
		return nil, err
	}
	return &InventoryResult{Record: rec}, nil
}

func (s *appService) RestockInventory(ctx context.Context, req RestockRequest) (*InventoryResult, error) {
	rec, err := core.Restock(ctx, s.store, req.ProductID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return &InventoryResult{Record: rec}, nil
}

func (s *appService) GetInventory(ctx context.Context, productID string) (*InventoryDetailResult, error) {
	rec, err := s.store.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	rc, err := s.reporting.ReconcileReport(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &InventoryDetailResult{Record: rec, Reconcile: rc}, nil
}

func (s *appService) ListInventory(ctx context.Context, afterProductID string, limit int) (*StockPageResult, error) {
	page, err := s.reporting.StockReport(ctx, afterProductID, limit)
	if err != nil {
		return nil, err
	}
	return &StockPageResult{Page: page}, nil
}

func (s *appService) ListBelowReorderLevel(ctx context.Context, limit int) (*StockLevelsResult, error) {
	levels, err := s.reporting.BelowReorderLevel(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &StockLevelsResult{Levels: levels}, nil
}

func (s *appService) SweepExpired(ctx context.Context) (*core.SweepStats, error) {
	if s.sweeper == nil {
		return nil, errSweeperUnavailable
	}
	stats, err := s.sweeper.SweepOnce(ctx)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
