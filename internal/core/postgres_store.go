package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `product_id, sku, stock_quantity, reserved_quantity, reorder_level, cost_price, created_at, updated_at`

const holdColumns = `session_id, product_id, quantity, created_at, renewed_at, expires_at`

// PostgresStore keeps the ledger in inventory_items and holds in reservations.
// Every ledger write is a single guarded statement; the row lock it takes linearizes
// concurrent writers for the same product.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (*InventoryRecord, error) {
	var rec InventoryRecord
	var cost decimal.NullDecimal
	if err := row.Scan(
		&rec.ProductID, &rec.SKU, &rec.StockQuantity, &rec.ReservedQuantity,
		&rec.ReorderLevel, &cost, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if cost.Valid {
		c := cost.Decimal
		rec.CostPrice = &c
	}
	return &rec, nil
}

func scanHold(row pgx.Row) (*Reservation, error) {
	var h Reservation
	if err := row.Scan(&h.SessionID, &h.ProductID, &h.Quantity, &h.CreatedAt, &h.RenewedAt, &h.ExpiresAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func getRecord(ctx context.Context, q querier, productID string, forUpdate bool) (*InventoryRecord, error) {
	sql := `SELECT ` + recordColumns + ` FROM inventory_items WHERE product_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rec, err := scanRecord(q.QueryRow(ctx, sql, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch inventory record %s: %w", productID, err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, productID string) (*InventoryRecord, error) {
	return getRecord(ctx, s.pool, productID, false)
}

func (s *PostgresStore) Initialize(ctx context.Context, req InitializeRequest) (*InventoryRecord, error) {
	if err := validateInitialize(req); err != nil {
		return nil, err
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		INSERT INTO inventory_items (product_id, sku, stock_quantity, reserved_quantity, reorder_level, cost_price)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING `+recordColumns,
		req.ProductID, req.SKU, req.InitialStock, req.ReorderLevel, req.CostPrice,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == "inventory_items_sku_key" {
				return nil, ErrSKUTaken
			}
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert inventory record %s: %w", req.ProductID, err)
	}
	return rec, nil
}

// applyDelta is the guarded conditional update. A miss means either the row is absent or
// the guard failed; the follow-up read tells the two apart.
func applyDelta(ctx context.Context, q querier, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error) {
	rec, err := scanRecord(q.QueryRow(ctx, `
		UPDATE inventory_items
		SET stock_quantity    = stock_quantity + $2,
		    reserved_quantity = reserved_quantity + $3,
		    updated_at        = NOW()
		WHERE product_id = $1
		  AND stock_quantity + $2 >= 0
		  AND reserved_quantity + $3 >= 0
		  AND reserved_quantity + $3 <= stock_quantity + $2
		RETURNING `+recordColumns,
		productID, stockDelta, reservedDelta,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to apply delta to %s: %w", productID, err)
	}
	cur, err := getRecord(ctx, q, productID, false)
	if err != nil {
		return nil, err
	}
	return nil, &InsufficientStockError{
		ProductID: productID,
		Requested: requestedFromDeltas(stockDelta, reservedDelta),
		Available: cur.AvailableQuantity(),
	}
}

func (s *PostgresStore) ApplyDelta(ctx context.Context, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error) {
	return applyDelta(ctx, s.pool, productID, stockDelta, reservedDelta)
}

func (s *PostgresStore) AdjustStock(ctx context.Context, req AdjustStockRequest) (*InventoryRecord, error) {
	if req.StockQuantity < 0 {
		return nil, fmt.Errorf("%w: stock quantity %d", ErrInvalidStockLevel, req.StockQuantity)
	}
	if req.ReorderLevel != nil && *req.ReorderLevel < 0 {
		return nil, fmt.Errorf("%w: reorder level cannot be negative, got %d", ErrInvalidArgument, *req.ReorderLevel)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := getRecord(ctx, tx, req.ProductID, true)
	if err != nil {
		return nil, err
	}
	if req.StockQuantity < cur.ReservedQuantity {
		return nil, fmt.Errorf("%w: new stock %d, reserved %d", ErrInvalidStockLevel, req.StockQuantity, cur.ReservedQuantity)
	}

	rec, err := scanRecord(tx.QueryRow(ctx, `
		UPDATE inventory_items
		SET stock_quantity = $2,
		    reorder_level  = COALESCE($3, reorder_level),
		    cost_price     = COALESCE($4, cost_price),
		    sku            = COALESCE($5, sku),
		    updated_at     = NOW()
		WHERE product_id = $1
		RETURNING `+recordColumns,
		req.ProductID, req.StockQuantity, req.ReorderLevel, req.CostPrice, req.SKU,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSKUTaken
		}
		return nil, fmt.Errorf("failed to adjust inventory record %s: %w", req.ProductID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock adjustment: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, afterProductID string, limit int) ([]InventoryRecord, error) {
	return s.listWhere(ctx, "", afterProductID, limit)
}

func (s *PostgresStore) listWhere(ctx context.Context, filter, afterProductID string, limit int) ([]InventoryRecord, error) {
	if limit <= 0 {
		limit = reorderScanPageSize
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_items
		WHERE product_id > $1 `+filter+`
		ORDER BY product_id
		LIMIT $2
	`, afterProductID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory records: %w", err)
	}
	defer rows.Close()

	var recs []InventoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory record: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inventory records: %w", err)
	}
	return recs, nil
}

// ListBelowReorderLevel filters in SQL; the keyset scan still pages by product_id.
func (s *PostgresStore) ListBelowReorderLevel(ctx context.Context) iter.Seq2[InventoryRecord, error] {
	return scanBelowReorderLevel(ctx, func(ctx context.Context, after string, limit int) ([]InventoryRecord, error) {
		return s.listWhere(ctx, "AND stock_quantity - reserved_quantity <= reorder_level", after, limit)
	})
}

func getHold(ctx context.Context, q querier, sessionID, productID string, forUpdate bool) (*Reservation, error) {
	sql := `SELECT ` + holdColumns + ` FROM reservations WHERE session_id = $1 AND product_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	h, err := scanHold(q.QueryRow(ctx, sql, sessionID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch hold %s/%s: %w", sessionID, productID, err)
	}
	return h, nil
}

func (s *PostgresStore) GetHold(ctx context.Context, sessionID, productID string) (*Reservation, error) {
	return getHold(ctx, s.pool, sessionID, productID, false)
}

func (s *PostgresStore) queryHolds(ctx context.Context, sql string, args ...any) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holds: %w", err)
	}
	defer rows.Close()

	var holds []Reservation
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hold: %w", err)
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holds: %w", err)
	}
	return holds, nil
}

func (s *PostgresStore) SessionHolds(ctx context.Context, sessionID string) ([]Reservation, error) {
	return s.queryHolds(ctx, `
		SELECT `+holdColumns+` FROM reservations
		WHERE session_id = $1
		ORDER BY product_id
	`, sessionID)
}

func (s *PostgresStore) ExpiredHolds(ctx context.Context, now time.Time, after *HoldCursor, limit int) ([]Reservation, error) {
	if after == nil {
		return s.queryHolds(ctx, `
			SELECT `+holdColumns+` FROM reservations
			WHERE expires_at < $1
			ORDER BY expires_at, session_id, product_id
			LIMIT $2
		`, now, limit)
	}
	return s.queryHolds(ctx, `
		SELECT `+holdColumns+` FROM reservations
		WHERE expires_at < $1
		  AND (expires_at, session_id, product_id) > ($2, $3, $4)
		ORDER BY expires_at, session_id, product_id
		LIMIT $5
	`, now, after.ExpiresAt, after.SessionID, after.ProductID, limit)
}

func (s *PostgresStore) SumHolds(ctx context.Context, productID string) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(quantity), 0)::int FROM reservations WHERE product_id = $1",
		productID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum holds for %s: %w", productID, err)
	}
	return total, nil
}

func (s *PostgresStore) Atomic(ctx context.Context, productID string, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx, productID: productID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit inventory transaction for %s: %w", productID, err)
	}
	return nil
}

type postgresTx struct {
	tx        pgx.Tx
	productID string
}

func (t *postgresTx) checkProduct(productID string) error {
	if productID != t.productID {
		return fmt.Errorf("transaction for product %s cannot touch product %s", t.productID, productID)
	}
	return nil
}

func (t *postgresTx) ApplyDelta(ctx context.Context, productID string, stockDelta, reservedDelta int) (*InventoryRecord, error) {
	if err := t.checkProduct(productID); err != nil {
		return nil, err
	}
	return applyDelta(ctx, t.tx, productID, stockDelta, reservedDelta)
}

func (t *postgresTx) GetHold(ctx context.Context, sessionID, productID string) (*Reservation, error) {
	if err := t.checkProduct(productID); err != nil {
		return nil, err
	}
	return getHold(ctx, t.tx, sessionID, productID, true)
}

func (t *postgresTx) AddHold(ctx context.Context, sessionID, productID string, qty int, now, expiresAt time.Time) (*Reservation, error) {
	if err := t.checkProduct(productID); err != nil {
		return nil, err
	}
	h, err := scanHold(t.tx.QueryRow(ctx, `
		INSERT INTO reservations (session_id, product_id, quantity, created_at, renewed_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (session_id, product_id) DO UPDATE
		SET quantity   = reservations.quantity + EXCLUDED.quantity,
		    renewed_at = EXCLUDED.renewed_at,
		    expires_at = EXCLUDED.expires_at
		RETURNING `+holdColumns,
		sessionID, productID, qty, now, expiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert hold %s/%s: %w", sessionID, productID, err)
	}
	return h, nil
}

func (t *postgresTx) ReduceHold(ctx context.Context, sessionID, productID string, qty int) (*Reservation, error) {
	h, err := t.GetHold(ctx, sessionID, productID)
	if err != nil {
		return nil, err
	}
	if h == nil || h.Quantity < qty {
		return nil, ErrExceedsHeld
	}
	if h.Quantity == qty {
		_, err := t.tx.Exec(ctx,
			"DELETE FROM reservations WHERE session_id = $1 AND product_id = $2",
			sessionID, productID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to delete hold %s/%s: %w", sessionID, productID, err)
		}
		return nil, nil
	}
	h, err = scanHold(t.tx.QueryRow(ctx, `
		UPDATE reservations SET quantity = quantity - $3
		WHERE session_id = $1 AND product_id = $2
		RETURNING `+holdColumns,
		sessionID, productID, qty,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to reduce hold %s/%s: %w", sessionID, productID, err)
	}
	return h, nil
}

func (t *postgresTx) RenewHold(ctx context.Context, sessionID, productID string, now, expiresAt time.Time) (*Reservation, error) {
	if err := t.checkProduct(productID); err != nil {
		return nil, err
	}
	h, err := scanHold(t.tx.QueryRow(ctx, `
		UPDATE reservations SET renewed_at = $3, expires_at = $4
		WHERE session_id = $1 AND product_id = $2
		RETURNING `+holdColumns,
		sessionID, productID, now, expiresAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceedsHeld
		}
		return nil, fmt.Errorf("failed to renew hold %s/%s: %w", sessionID, productID, err)
	}
	return h, nil
}

func (t *postgresTx) DeleteExpiredHold(ctx context.Context, sessionID, productID string, qty int, now time.Time) error {
	if err := t.checkProduct(productID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM reservations
		WHERE session_id = $1 AND product_id = $2 AND quantity = $3 AND expires_at < $4
	`, sessionID, productID, qty, now)
	if err != nil {
		return fmt.Errorf("failed to delete expired hold %s/%s: %w", sessionID, productID, err)
	}
	if tag.RowsAffected() == 0 {
		return errHoldChanged
	}
	return nil
}
