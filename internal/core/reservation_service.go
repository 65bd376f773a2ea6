package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmstock/internal/metrics"
)

const (
	DefaultReservationTTL = 15 * time.Minute
	DefaultOpTimeout      = 5 * time.Second
)

var tracer = otel.Tracer("pharmstock/internal/core")

// ReservationService turns cart mutations into ledger deltas and keeps per-session holds
// so that releases are bounded by what a session actually reserved.
type ReservationService interface {
	// CheckAvailability is an advisory snapshot; it reserves nothing.
	CheckAvailability(ctx context.Context, productID string, qty int) (*Availability, error)
	// Reserve claims qty more units for the session and refreshes the hold's expiry.
	Reserve(ctx context.Context, sessionID, productID string, qty int) (*ReservationResult, error)
	// Release returns qty held units to availability.
	Release(ctx context.Context, sessionID, productID string, qty int) (*ReservationResult, error)
	// SetQuantity moves the session's hold to newQty, reserving or releasing the difference.
	SetQuantity(ctx context.Context, sessionID, productID string, newQty int) (*ReservationResult, error)
	// ReleaseAllForSession releases every hold of the session and returns the units released.
	ReleaseAllForSession(ctx context.Context, sessionID string) (int, error)
	// Fulfill converts qty held units into a permanent stock decrement at checkout.
	Fulfill(ctx context.Context, sessionID, productID string, qty int) (*ReservationResult, error)
	// RenewSession pushes the expiry of every hold of the session forward by the TTL.
	RenewSession(ctx context.Context, sessionID string) (int, error)
	SessionHolds(ctx context.Context, sessionID string) ([]Reservation, error)
}

type reservationService struct {
	store     Store
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a ReservationService or Sweeper.
type Option func(*options)

type options struct {
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func defaultOptions() options {
	return options{
		ttl:       DefaultReservationTTL,
		opTimeout: DefaultOpTimeout,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
}

func WithTTL(d time.Duration) Option { return func(o *options) { o.ttl = d } }
func WithOpTimeout(d time.Duration) Option { return func(o *options) { o.opTimeout = d } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func NewReservationService(store Store, opts ...Option) ReservationService {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &reservationService{
		store:     store,
		ttl:       o.ttl,
		opTimeout: o.opTimeout,
		now:       o.now,
		log:       o.log.With().Str("component", "reservations").Logger(),
		metrics:   o.metrics,
	}
}

func validateHoldArgs(sessionID, productID string, qty int) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}
	if qty <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidQuantity, qty)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrExceedsHeld):
		return "exceeds_held"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}

// run bounds op by the operation timeout, traces it and records its outcome.
func (s *reservationService) run(ctx context.Context, op, sessionID, productID string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "ReservationService."+op, trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s %s: %w", ErrTimeout, op, productID, err)
	}
	outcome := outcomeOf(err)
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))

	logEvent := s.log.Debug()
	switch outcome {
	case "ok", "insufficient_stock", "not_found", "invalid":
	case "exceeds_held":
		logEvent = s.log.Warn()
	case "timeout":
		logEvent = s.log.Warn().Str("reason", "ledger_contention")
	default:
		logEvent = s.log.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	logEvent.Err(err).
		Str("op", op).
		Str("session_id", sessionID).
		Str("product_id", productID).
		Str("outcome", outcome).
		Dur("elapsed", time.Since(start)).
		Msg("reservation operation")
	return err
}

func (s *reservationService) CheckAvailability(ctx context.Context, productID string, qty int) (*Availability, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidQuantity, qty)
	}
	var res *Availability
	err := s.run(ctx, "check_availability", "", productID, func(ctx context.Context) error {
		rec, err := s.store.Get(ctx, productID)
		if err != nil {
			return err
		}
		res = &Availability{
			ProductID:         productID,
			Requested:         qty,
			Available:         rec.AvailableQuantity() >= qty,
			AvailableQuantity: rec.AvailableQuantity(),
		}
		return nil
	})
	return res, err
}

func (s *reservationService) Reserve(ctx context.Context, sessionID, productID string, qty int) (*ReservationResult, error) {
	if err := validateHoldArgs(sessionID, productID, qty); err != nil {
		return nil, err
	}
	var res *ReservationResult
	err := s.run(ctx, "reserve", sessionID, productID, func(ctx context.Context) error {
		now := s.now()
		return s.store.Atomic(ctx, productID, func(tx Tx) error {
			rec, err := tx.ApplyDelta(ctx, productID, 0, qty)
			if err != nil {
				return err
			}
			hold, err := tx.AddHold(ctx, sessionID, productID, qty, now, now.Add(s.ttl))
			if err != nil {
				return err
			}
			res = resultFrom(rec, hold)
			return nil
		})
	})
	return res, err
}

// releaseInTx lowers both the product's reserved total and the session's hold by qty.
// The ledger row is always touched before the hold row.
func releaseInTx(ctx context.Context, tx Tx, sessionID, productID string, qty int) (*InventoryRecord, *Reservation, error) {
	rec, err := tx.ApplyDelta(ctx, productID, 0, -qty)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			// Fewer units are reserved product-wide than requested, so no session can hold them.
			return nil, nil, ErrExceedsHeld
		}
		return nil, nil, err
	}
	hold, err := tx.ReduceHold(ctx, sessionID, productID, qty)
	if err != nil {
		return nil, nil, err
	}
	return rec, hold, nil
}

func (s *reservationService) Release(ctx context.Context, sessionID, productID string, qty int) (*ReservationResult, error) {
	if err := validateHoldArgs(sessionID, productID, qty); err != nil {
		return nil, err
	}
	var res *ReservationResult
	err := s.run(ctx, "release", sessionID, productID, func(ctx context.Context) error {
		return s.store.Atomic(ctx, productID, func(tx Tx) error {
			rec, hold, err := releaseInTx(ctx, tx, sessionID, productID, qty)
			if err != nil {
				return err
			}
			res = resultFrom(rec, hold)
			return nil
		})
	})
	return res, err
}

func (s *reservationService) SetQuantity(ctx context.Context, sessionID, productID string, newQty int) (*ReservationResult, error) {
	if newQty < 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidQuantity, newQty)
	}
	if err := validateHoldArgs(sessionID, productID, 1); err != nil {
		return nil, err
	}
	var res *ReservationResult
	err := s.run(ctx, "set_quantity", sessionID, productID, func(ctx context.Context) error {
		now := s.now()
		return s.store.Atomic(ctx, productID, func(tx Tx) error {
			// Lock the ledger row first so the hold read below cannot race a concurrent change.
			rec, err := tx.ApplyDelta(ctx, productID, 0, 0)
			if err != nil {
				return err
			}
			hold, err := tx.GetHold(ctx, sessionID, productID)
			if err != nil {
				return err
			}
			held := 0
			if hold != nil {
				held = hold.Quantity
			}

			switch delta := newQty - held; {
			case delta > 0:
				if rec, err = tx.ApplyDelta(ctx, productID, 0, delta); err != nil {
					return err
				}
				if hold, err = tx.AddHold(ctx, sessionID, productID, delta, now, now.Add(s.ttl)); err != nil {
					return err
				}
			case delta < 0:
				if rec, hold, err = releaseInTx(ctx, tx, sessionID, productID, -delta); err != nil {
					return err
				}
			case hold != nil:
				if hold, err = tx.RenewHold(ctx, sessionID, productID, now, now.Add(s.ttl)); err != nil {
					return err
				}
			}
			res = resultFrom(rec, hold)
			return nil
		})
	})
	return res, err
}

func (s *reservationService) ReleaseAllForSession(ctx context.Context, sessionID string) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	released := 0
	err := s.run(ctx, "release_all", sessionID, "", func(ctx context.Context) error {
		holds, err := s.store.SessionHolds(ctx, sessionID)
		if err != nil {
			return err
		}
		var errs []error
		for _, h := range holds {
			units := 0
			err := s.store.Atomic(ctx, h.ProductID, func(tx Tx) error {
				// Ledger row before hold row, matching Reserve.
				if _, err := tx.ApplyDelta(ctx, h.ProductID, 0, 0); err != nil {
					return err
				}
				cur, err := tx.GetHold(ctx, sessionID, h.ProductID)
				if err != nil || cur == nil {
					return err
				}
				if _, _, err := releaseInTx(ctx, tx, sessionID, h.ProductID, cur.Quantity); err != nil {
					return err
				}
				units = cur.Quantity
				return nil
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("release %s: %w", h.ProductID, err))
				continue
			}
			released += units
		}
		return errors.Join(errs...)
	})
	return released, err
}

func (s *reservationService) Fulfill(ctx context.Context, sessionID, productID string, qty int) (*ReservationResult, error) {
	if err := validateHoldArgs(sessionID, productID, qty); err != nil {
		return nil, err
	}
	var res *ReservationResult
	err := s.run(ctx, "fulfill", sessionID, productID, func(ctx context.Context) error {
		return s.store.Atomic(ctx, productID, func(tx Tx) error {
			rec, err := tx.ApplyDelta(ctx, productID, -qty, -qty)
			if err != nil {
				if errors.Is(err, ErrInsufficientStock) {
					return ErrExceedsHeld
				}
				return err
			}
			hold, err := tx.ReduceHold(ctx, sessionID, productID, qty)
			if err != nil {
				return err
			}
			res = resultFrom(rec, hold)
			return nil
		})
	})
	return res, err
}

func (s *reservationService) RenewSession(ctx context.Context, sessionID string) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	renewed := 0
	err := s.run(ctx, "renew", sessionID, "", func(ctx context.Context) error {
		holds, err := s.store.SessionHolds(ctx, sessionID)
		if err != nil {
			return err
		}
		now := s.now()
		var errs []error
		for _, h := range holds {
			err := s.store.Atomic(ctx, h.ProductID, func(tx Tx) error {
				_, err := tx.RenewHold(ctx, sessionID, h.ProductID, now, now.Add(s.ttl))
				return err
			})
			switch {
			case err == nil:
				renewed++
			case errors.Is(err, ErrExceedsHeld):
				// released or swept since the listing
			default:
				errs = append(errs, fmt.Errorf("renew %s: %w", h.ProductID, err))
			}
		}
		return errors.Join(errs...)
	})
	return renewed, err
}

func (s *reservationService) SessionHolds(ctx context.Context, sessionID string) ([]Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.store.SessionHolds(ctx, sessionID)
}
