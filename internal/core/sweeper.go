package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"pharmstock/internal/metrics"
)

const (
	DefaultSweepInterval  = 60 * time.Second
	DefaultSweepBatchSize = 500

	sweepLockKey = "pharmstock:sweeper"
)

// Locker elects a single sweeper across replicas. TryLock returns ok=false when another
// holder owns key; unlock must be called once the cycle is done.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// SweepStats summarizes one sweep cycle.
type SweepStats struct {
	Scanned        int
	Reclaimed      int
	ReclaimedUnits int
	Skipped        int
	Failed         int
}

// Sweeper returns units held by abandoned sessions to availability.
type Sweeper struct {
	store     Store
	interval  time.Duration
	batchSize int
	locker    Locker
	opTimeout time.Duration
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewSweeper builds a sweeper. locker may be nil, in which case every replica sweeps;
// reclaiming is atomic per hold so concurrent sweepers cannot double-release.
func NewSweeper(store Store, interval time.Duration, batchSize int, locker Locker, opts ...Option) *Sweeper {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		batchSize: batchSize,
		locker:    locker,
		opTimeout: o.opTimeout,
		now:       o.now,
		log:       o.log.With().Str("component", "sweeper").Logger(),
		metrics:   o.metrics,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("sweep cycle failed")
			}
		}
	}
}

// SweepOnce reclaims every hold that has expired as of now. Holds are visited once per
// cycle in expiry order; a hold that fails is logged and counted, stays in place and is
// retried next cycle.
func (s *Sweeper) SweepOnce(ctx context.Context) (stats SweepStats, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveSweep(stats.ReclaimedUnits, stats.Failed, time.Since(start))
	}()

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			return stats, err
		}
		if !ok {
			s.log.Debug().Msg("another replica holds the sweep lock")
			return stats, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	now := s.now()
	var after *HoldCursor
	for {
		holds, err := s.store.ExpiredHolds(ctx, now, after, s.batchSize)
		if err != nil {
			return stats, err
		}
		for _, h := range holds {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Scanned++
			err := s.reclaim(ctx, h, now)
			switch {
			case err == nil:
				stats.Reclaimed++
				stats.ReclaimedUnits += h.Quantity
			case errors.Is(err, errHoldChanged):
				stats.Skipped++
			default:
				stats.Failed++
				s.log.Error().Err(err).
					Str("session_id", h.SessionID).
					Str("product_id", h.ProductID).
					Int("quantity", h.Quantity).
					Msg("failed to reclaim expired hold")
			}
		}
		if len(holds) < s.batchSize {
			break
		}
		cursor := holds[len(holds)-1].CursorOf()
		after = &cursor
	}

	if stats.Scanned > 0 {
		s.log.Info().
			Int("scanned", stats.Scanned).
			Int("reclaimed", stats.Reclaimed).
			Int("reclaimed_units", stats.ReclaimedUnits).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Msg("sweep cycle complete")
	}
	return stats, nil
}

func (s *Sweeper) reclaim(ctx context.Context, h Reservation, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.store.Atomic(ctx, h.ProductID, func(tx Tx) error {
		if _, err := tx.ApplyDelta(ctx, h.ProductID, 0, -h.Quantity); err != nil {
			return err
		}
		return tx.DeleteExpiredHold(ctx, h.SessionID, h.ProductID, h.Quantity, now)
	})
}
