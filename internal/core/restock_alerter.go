package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pharmstock/internal/metrics"
)

// RestockAlert announces that a product fell to or below its reorder level.
type RestockAlert struct {
	ProductID         string    `json:"productId"`
	SKU               string    `json:"sku"`
	StockQuantity     int       `json:"stockQuantity"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	ReorderLevel      int       `json:"reorderLevel"`
	DetectedAt        time.Time `json:"detectedAt"`
}

// AlertPublisher delivers restock alerts to whoever purchases stock.
type AlertPublisher interface {
	PublishRestockAlerts(ctx context.Context, alerts []RestockAlert) error
}

// LogAlertPublisher writes alerts to the log. It is the fallback when no broker is configured.
type LogAlertPublisher struct {
	Log zerolog.Logger
}

func (p LogAlertPublisher) PublishRestockAlerts(ctx context.Context, alerts []RestockAlert) error {
	for _, a := range alerts {
		p.Log.Warn().
			Str("product_id", a.ProductID).
			Str("sku", a.SKU).
			Int("available", a.AvailableQuantity).
			Int("reorder_level", a.ReorderLevel).
			Msg("restock needed")
	}
	return nil
}

// RestockAlerter periodically scans the ledger for products at or below their reorder
// level. A product is alerted once and again only after it has recovered and dropped back.
type RestockAlerter struct {
	ledger    Ledger
	publisher AlertPublisher
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics

	alerted map[string]struct{}
}

func NewRestockAlerter(ledger Ledger, publisher AlertPublisher, interval time.Duration, opts ...Option) *RestockAlerter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RestockAlerter{
		ledger:    ledger,
		publisher: publisher,
		interval:  interval,
		now:       o.now,
		log:       o.log.With().Str("component", "restock_alerter").Logger(),
		metrics:   o.metrics,
		alerted:   make(map[string]struct{}),
	}
}

func (a *RestockAlerter) Run(ctx context.Context) error {
	if a.interval <= 0 {
		a.log.Info().Msg("restock alerts disabled")
		return nil
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.ScanOnce(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("restock scan failed")
			}
		}
	}
}

// ScanOnce publishes alerts for products newly at or below their reorder level.
// Not safe for concurrent use; Run calls it from a single goroutine.
func (a *RestockAlerter) ScanOnce(ctx context.Context) ([]RestockAlert, error) {
	now := a.now()
	current := make(map[string]struct{})
	var alerts []RestockAlert
	for rec, err := range a.ledger.ListBelowReorderLevel(ctx) {
		if err != nil {
			return nil, err
		}
		current[rec.ProductID] = struct{}{}
		if _, seen := a.alerted[rec.ProductID]; seen {
			continue
		}
		alerts = append(alerts, RestockAlert{
			ProductID:         rec.ProductID,
			SKU:               rec.SKU,
			StockQuantity:     rec.StockQuantity,
			ReservedQuantity:  rec.ReservedQuantity,
			AvailableQuantity: rec.AvailableQuantity(),
			ReorderLevel:      rec.ReorderLevel,
			DetectedAt:        now,
		})
	}
	if len(alerts) > 0 {
		if err := a.publisher.PublishRestockAlerts(ctx, alerts); err != nil {
			return nil, fmt.Errorf("failed to publish %d restock alerts: %w", len(alerts), err)
		}
		a.metrics.IncRestockAlerts(len(alerts))
	}
	a.alerted = current
	return alerts, nil
}
