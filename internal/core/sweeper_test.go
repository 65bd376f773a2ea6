package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmstock/internal/core"
	"pharmstock/internal/metrics"
)

func TestSweepOnce_ReclaimsExpiredHolds(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := core.NewMemoryStore()
	seedProduct(t, store, "p", 10, 0)
	svc := core.NewReservationService(store, core.WithClock(clock.Now), core.WithTTL(15*time.Minute))

	_, err := svc.Reserve(ctx, "abandoned", "p", 3)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = svc.Reserve(ctx, "active", "p", 2)
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	sweeper := core.NewSweeper(store, time.Minute, 100, nil, core.WithClock(clock.Now))
	stats, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.Equal(t, 3, stats.ReclaimedUnits)
	assert.Zero(t, stats.Failed)

	assert.Equal(t, 2, reservedOf(t, store, "p"))
	hold, err := store.GetHold(ctx, "abandoned", "p")
	require.NoError(t, err)
	assert.Nil(t, hold)
	hold, err = store.GetHold(ctx, "active", "p")
	require.NoError(t, err)
	assert.NotNil(t, hold)

	stats, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned, "second sweep finds nothing")
}

func TestSweepOnce_SmallBatchesDrainEverything(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := core.NewMemoryStore()
	seedProduct(t, store, "p", 50, 0)
	svc := core.NewReservationService(store, core.WithClock(clock.Now))
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		_, err := svc.Reserve(ctx, s, "p", 1)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	clock.Advance(time.Hour)

	stats, err := core.NewSweeper(store, time.Minute, 2, nil, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Reclaimed)
	assert.Zero(t, reservedOf(t, store, "p"))
}

// staleStore replays a fixed expired-hold listing, standing in for a scan that raced a
// concurrent renewal.
type staleStore struct {
	*core.MemoryStore
	listing []core.Reservation
}

func (s *staleStore) ExpiredHolds(ctx context.Context, now time.Time, after *core.HoldCursor, limit int) ([]core.Reservation, error) {
	out := s.listing
	s.listing = nil
	return out, nil
}

func TestSweepOnce_SkipsHoldRenewedSinceScan(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := core.NewMemoryStore()
	seedProduct(t, mem, "p", 10, 0)
	svc := core.NewReservationService(mem, core.WithClock(clock.Now), core.WithTTL(15*time.Minute))

	_, err := svc.Reserve(ctx, "s", "p", 4)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	stale, err := mem.ExpiredHolds(ctx, clock.Now(), nil, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	_, err = svc.RenewSession(ctx, "s")
	require.NoError(t, err)

	store := &staleStore{MemoryStore: mem, listing: stale}
	stats, err := core.NewSweeper(store, time.Minute, 10, nil, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Reclaimed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 4, reservedOf(t, mem, "p"), "a renewed hold keeps its units")
}

// flakyStore fails every atomic unit touching one product.
type flakyStore struct {
	*core.MemoryStore
	failProduct string
}

func (s flakyStore) Atomic(ctx context.Context, productID string, fn func(tx core.Tx) error) error {
	if productID == s.failProduct {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Atomic(ctx, productID, fn)
}

func TestSweepOnce_OneFailureDoesNotStopTheCycle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := core.NewMemoryStore()
	seedProduct(t, mem, "bad", 5, 0)
	seedProduct(t, mem, "good", 5, 0)
	svc := core.NewReservationService(mem, core.WithClock(clock.Now))
	_, err := svc.Reserve(ctx, "s", "bad", 1)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Reserve(ctx, "s", "good", 2)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	store := flakyStore{MemoryStore: mem, failProduct: "bad"}
	stats, err := core.NewSweeper(store, time.Minute, 10, nil, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.Zero(t, reservedOf(t, mem, "good"))
	assert.Equal(t, 1, reservedOf(t, mem, "bad"), "failed record stays for the next cycle")

	hold, err := mem.GetHold(ctx, "s", "bad")
	require.NoError(t, err)
	assert.NotNil(t, hold)
}

func TestSweepOnce_FailingOldHoldDoesNotBlockNewerOnes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := core.NewMemoryStore()
	seedProduct(t, mem, "bad", 5, 0)
	seedProduct(t, mem, "good", 5, 0)
	svc := core.NewReservationService(mem, core.WithClock(clock.Now))
	_, err := svc.Reserve(ctx, "s1", "bad", 1)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Reserve(ctx, "s2", "good", 2)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	store := flakyStore{MemoryStore: mem, failProduct: "bad"}
	stats, err := core.NewSweeper(store, time.Minute, 1, nil, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.SweepStats{Scanned: 2, Reclaimed: 1, ReclaimedUnits: 2, Failed: 1}, stats)
	assert.Zero(t, reservedOf(t, mem, "good"))
	assert.Equal(t, 1, reservedOf(t, mem, "bad"))
}

func TestSweepOnce_VisitsEachHoldOncePerCycle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := core.NewMemoryStore()
	seedProduct(t, mem, "bad", 5, 0)
	seedProduct(t, mem, "good", 10, 0)
	svc := core.NewReservationService(mem, core.WithClock(clock.Now))
	_, err := svc.Reserve(ctx, "s0", "bad", 1)
	require.NoError(t, err)
	for _, sess := range []string{"s1", "s2", "s3"} {
		clock.Advance(time.Second)
		_, err := svc.Reserve(ctx, sess, "good", 1)
		require.NoError(t, err)
	}
	clock.Advance(time.Hour)

	store := flakyStore{MemoryStore: mem, failProduct: "bad"}
	stats, err := core.NewSweeper(store, time.Minute, 2, nil, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 3, stats.Reclaimed)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, reservedOf(t, mem, "good"))
}

// brokenListing fails the expired-hold scan.
type brokenListing struct {
	*core.MemoryStore
}

func (brokenListing) ExpiredHolds(context.Context, time.Time, *core.HoldCursor, int) ([]core.Reservation, error) {
	return nil, errors.New("connection refused")
}

func sweepCycles(t *testing.T, m *metrics.Metrics) uint64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "pharmstock_sweeper_cycle_duration_seconds" {
			return f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestSweepOnce_RecordsFailedCycles(t *testing.T) {
	m := metrics.New()
	store := brokenListing{MemoryStore: core.NewMemoryStore()}
	_, err := core.NewSweeper(store, time.Minute, 10, nil, core.WithMetrics(m)).SweepOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(1), sweepCycles(t, m))
}

type fakeLocker struct {
	ok       bool
	err      error
	unlocked bool
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func(context.Context) error { l.unlocked = true; return nil }, true, nil
}

func TestSweepOnce_RespectsClusterLock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := core.NewMemoryStore()
	seedProduct(t, store, "p", 5, 0)
	svc := core.NewReservationService(store, core.WithClock(clock.Now))
	_, err := svc.Reserve(ctx, "s", "p", 1)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	busy := &fakeLocker{ok: false}
	stats, err := core.NewSweeper(store, time.Minute, 10, busy, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned)
	assert.Equal(t, 1, reservedOf(t, store, "p"))

	broken := &fakeLocker{err: errors.New("redis down")}
	_, err = core.NewSweeper(store, time.Minute, 10, broken, core.WithClock(clock.Now)).SweepOnce(ctx)
	assert.Error(t, err)

	free := &fakeLocker{ok: true}
	stats, err = core.NewSweeper(store, time.Minute, 10, free, core.WithClock(clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.True(t, free.unlocked)
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- core.NewSweeper(core.NewMemoryStore(), 5*time.Millisecond, 10, nil).Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
