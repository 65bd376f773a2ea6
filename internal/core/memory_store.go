package core

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"
)

type holdKey struct {
	sessionID string
	productID string
}

// MemoryStore is a single-process Store. Writes for one product are serialized by a
// per-product mutex; Atomic buffers writes and publishes them on success.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*InventoryRecord
	skus    map[string]string
	holds   map[holdKey]*Reservation

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*InventoryRecord),
		skus:    make(map[string]string),
		holds:   make(map[holdKey]*Reservation),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (s *MemoryStore) productLock(productID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[productID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[productID] = l
	}
	return l
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Get(ctx context.Context, productID string) (*InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Initialize(ctx context.Context, req InitializeRequest) (*InventoryRecord, error) {
	if err := validateInitialize(req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[req.ProductID]; ok {
		return nil, ErrAlreadyExists
	}
	if _, ok := s.skus[req.SKU]; ok {
		return nil, ErrSKUTaken
	}
	now := s.now()
	rec := &InventoryRecord{
		ProductID:     req.ProductID,
		SKU:           req.SKU,
		StockQuantity: req.InitialStock,
		ReorderLevel:  req.ReorderLevel,
		CostPrice:     req.CostPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.records[req.ProductID] = rec
	s.skus[req.SKU] = req.ProductID
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ApplyDelta(ctx context.Context, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error) {
	l := s.productLock(productID)
	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[productID]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyDeltaTo(*rec, stockDelta, reservedDelta)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.records[productID] = &next
	return &next, nil
}

func (s *MemoryStore) AdjustStock(ctx context.Context, req AdjustStockRequest) (*InventoryRecord, error) {
	if req.StockQuantity < 0 {
		return nil, fmt.Errorf("%w: stock quantity %d", ErrInvalidStockLevel, req.StockQuantity)
	}
	if req.ReorderLevel != nil && *req.ReorderLevel < 0 {
		return nil, fmt.Errorf("%w: reorder level cannot be negative, got %d", ErrInvalidArgument, *req.ReorderLevel)
	}
	l := s.productLock(req.ProductID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[req.ProductID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.StockQuantity < rec.ReservedQuantity {
		return nil, fmt.Errorf("%w: new stock %d, reserved %d", ErrInvalidStockLevel, req.StockQuantity, rec.ReservedQuantity)
	}
	next := *rec
	if req.SKU != nil && *req.SKU != rec.SKU {
		if owner, taken := s.skus[*req.SKU]; taken && owner != req.ProductID {
			return nil, ErrSKUTaken
		}
		delete(s.skus, rec.SKU)
		s.skus[*req.SKU] = req.ProductID
		next.SKU = *req.SKU
	}
	next.StockQuantity = req.StockQuantity
	if req.ReorderLevel != nil {
		next.ReorderLevel = *req.ReorderLevel
	}
	if req.CostPrice != nil {
		next.CostPrice = req.CostPrice
	}
	next.UpdatedAt = s.now()
	s.records[req.ProductID] = &next
	cp := next
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, afterProductID string, limit int) ([]InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		if id > afterProductID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]InventoryRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.records[id])
	}
	return out, nil
}

func (s *MemoryStore) ListBelowReorderLevel(ctx context.Context) iter.Seq2[InventoryRecord, error] {
	return scanBelowReorderLevel(ctx, s.List)
}

func (s *MemoryStore) GetHold(ctx context.Context, sessionID, productID string) (*Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[holdKey{sessionID, productID}]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) SessionHolds(ctx context.Context, sessionID string) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for k, h := range s.holds {
		if k.sessionID == sessionID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *MemoryStore) ExpiredHolds(ctx context.Context, now time.Time, after *HoldCursor, limit int) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, h := range s.holds {
		if !h.Expired(now) {
			continue
		}
		if after != nil && !after.Less(h.CursorOf()) {
			continue
		}
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CursorOf().Less(out[j].CursorOf()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SumHolds(ctx context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for k, h := range s.holds {
		if k.productID == productID {
			total += h.Quantity
		}
	}
	return total, nil
}

func (s *MemoryStore) Atomic(ctx context.Context, productID string, fn func(tx Tx) error) error {
	l := s.productLock(productID)
	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: s, productID: productID, holds: make(map[holdKey]*Reservation)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memoryTx overlays pending writes for a single product. A nil entry in holds marks a
// deleted hold.
type memoryTx struct {
	store     *MemoryStore
	productID string
	record    *InventoryRecord
	holds     map[holdKey]*Reservation
}

func (tx *memoryTx) checkProduct(productID string) error {
	if productID != tx.productID {
		return fmt.Errorf("transaction for product %s cannot touch product %s", tx.productID, productID)
	}
	return nil
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error) {
	if err := tx.checkProduct(productID); err != nil {
		return nil, err
	}
	cur := tx.record
	if cur == nil {
		rec, err := tx.store.Get(ctx, productID)
		if err != nil {
			return nil, err
		}
		cur = rec
	}
	next, err := applyDeltaTo(*cur, stockDelta, reservedDelta)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = tx.store.now()
	tx.record = &next
	cp := next
	return &cp, nil
}

func (tx *memoryTx) GetHold(ctx context.Context, sessionID, productID string) (*Reservation, error) {
	if err := tx.checkProduct(productID); err != nil {
		return nil, err
	}
	if h, ok := tx.holds[holdKey{sessionID, productID}]; ok {
		if h == nil {
			return nil, nil
		}
		cp := *h
		return &cp, nil
	}
	return tx.store.GetHold(ctx, sessionID, productID)
}

func (tx *memoryTx) AddHold(ctx context.Context, sessionID, productID string, qty int, now, expiresAt time.Time) (*Reservation, error) {
	h, err := tx.GetHold(ctx, sessionID, productID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &Reservation{SessionID: sessionID, ProductID: productID, CreatedAt: now}
	}
	h.Quantity += qty
	h.RenewedAt = now
	h.ExpiresAt = expiresAt
	tx.holds[holdKey{sessionID, productID}] = h
	cp := *h
	return &cp, nil
}

func (tx *memoryTx) ReduceHold(ctx context.Context, sessionID, productID string, qty int) (*Reservation, error) {
	h, err := tx.GetHold(ctx, sessionID, productID)
	if err != nil {
		return nil, err
	}
	if h == nil || h.Quantity < qty {
		return nil, ErrExceedsHeld
	}
	h.Quantity -= qty
	if h.Quantity == 0 {
		tx.holds[holdKey{sessionID, productID}] = nil
		return nil, nil
	}
	tx.holds[holdKey{sessionID, productID}] = h
	cp := *h
	return &cp, nil
}

func (tx *memoryTx) RenewHold(ctx context.Context, sessionID, productID string, now, expiresAt time.Time) (*Reservation, error) {
	h, err := tx.GetHold(ctx, sessionID, productID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrExceedsHeld
	}
	h.RenewedAt = now
	h.ExpiresAt = expiresAt
	tx.holds[holdKey{sessionID, productID}] = h
	cp := *h
	return &cp, nil
}

func (tx *memoryTx) DeleteExpiredHold(ctx context.Context, sessionID, productID string, qty int, now time.Time) error {
	h, err := tx.GetHold(ctx, sessionID, productID)
	if err != nil {
		return err
	}
	if h == nil || h.Quantity != qty || !h.Expired(now) {
		return errHoldChanged
	}
	tx.holds[holdKey{sessionID, productID}] = nil
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.record != nil {
		s.records[tx.productID] = tx.record
	}
	for k, h := range tx.holds {
		if h == nil {
			delete(s.holds, k)
			continue
		}
		s.holds[k] = h
	}
}
