package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmstock/internal/core"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, opts ...core.Option) (core.ReservationService, *core.MemoryStore) {
	t.Helper()
	store := core.NewMemoryStore()
	return core.NewReservationService(store, opts...), store
}

func reservedOf(t *testing.T, store core.Store, productID string) int {
	t.Helper()
	rec, err := store.Get(context.Background(), productID)
	require.NoError(t, err)
	return rec.ReservedQuantity
}

func TestReserve_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 5, 0)

	res, err := svc.Reserve(ctx, "A", "p", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReservedQuantity)

	avail, err := svc.CheckAvailability(ctx, "p", 3)
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.Equal(t, 2, avail.AvailableQuantity)

	res, err = svc.Reserve(ctx, "B", "p", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, res.ReservedQuantity)

	_, err = svc.Reserve(ctx, "C", "p", 1)
	require.ErrorIs(t, err, core.ErrInsufficientStock)
	n, ok := core.AvailableFromError(err)
	require.True(t, ok)
	assert.Zero(t, n)

	res, err = svc.Release(ctx, "A", "p", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ReservedQuantity)
	assert.Zero(t, res.SessionQuantity)
	assert.Nil(t, res.ExpiresAt)

	res, err = svc.Reserve(ctx, "C", "p", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReservedQuantity)
}

func TestReserve_NoOversellingUnderConcurrency(t *testing.T) {
	const stock, callers = 10, 64
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", stock, 0)

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(ctx, fmt.Sprintf("s%d", i), "p", 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, core.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load())
	assert.EqualValues(t, callers-stock, insufficient.Load())
	assert.Equal(t, stock, reservedOf(t, store, "p"))

	held, err := store.SumHolds(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, stock, held)
}

func TestReserveRelease_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 8, 0)
	_, err := svc.Reserve(ctx, "other", "p", 2)
	require.NoError(t, err)
	before := reservedOf(t, store, "p")

	_, err = svc.Reserve(ctx, "s", "p", 4)
	require.NoError(t, err)
	_, err = svc.Release(ctx, "s", "p", 4)
	require.NoError(t, err)

	assert.Equal(t, before, reservedOf(t, store, "p"))
	hold, err := store.GetHold(ctx, "s", "p")
	require.NoError(t, err)
	assert.Nil(t, hold)
}

func TestRelease_ExceedsHeldLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 8, 0)
	_, err := svc.Reserve(ctx, "a", "p", 2)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "b", "p", 3)
	require.NoError(t, err)

	_, err = svc.Release(ctx, "a", "p", 3)
	assert.ErrorIs(t, err, core.ErrExceedsHeld)
	_, err = svc.Release(ctx, "nobody", "p", 1)
	assert.ErrorIs(t, err, core.ErrExceedsHeld)
	_, err = svc.Release(ctx, "a", "p", 0)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	assert.Equal(t, 5, reservedOf(t, store, "p"))
	hold, err := store.GetHold(ctx, "a", "p")
	require.NoError(t, err)
	assert.Equal(t, 2, hold.Quantity)
}

func TestFulfill_Consistency(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 10, 0)
	_, err := svc.Reserve(ctx, "s", "p", 4)
	require.NoError(t, err)
	before, err := store.Get(ctx, "p")
	require.NoError(t, err)

	res, err := svc.Fulfill(ctx, "s", "p", 4)
	require.NoError(t, err)
	assert.Equal(t, before.StockQuantity-4, res.StockQuantity)
	assert.Equal(t, before.ReservedQuantity-4, res.ReservedQuantity)
	assert.Equal(t, before.AvailableQuantity(), res.AvailableQuantity)

	_, err = svc.Fulfill(ctx, "s", "p", 1)
	assert.ErrorIs(t, err, core.ErrExceedsHeld)
}

func TestFulfill_CannotConsumeAnotherSessionsHold(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 10, 0)
	_, err := svc.Reserve(ctx, "a", "p", 3)
	require.NoError(t, err)

	_, err = svc.Fulfill(ctx, "b", "p", 2)
	assert.ErrorIs(t, err, core.ErrExceedsHeld)

	rec, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.StockQuantity)
	assert.Equal(t, 3, rec.ReservedQuantity)
}

func TestSetQuantity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc, store := newService(t, core.WithClock(clock.Now), core.WithTTL(10*time.Minute))
	seedProduct(t, store, "p", 6, 0)

	res, err := svc.SetQuantity(ctx, "s", "p", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SessionQuantity)
	assert.Equal(t, 4, res.ReservedQuantity)

	res, err = svc.SetQuantity(ctx, "s", "p", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SessionQuantity)
	assert.Equal(t, 1, res.ReservedQuantity)

	_, err = svc.SetQuantity(ctx, "s", "p", 7)
	assert.ErrorIs(t, err, core.ErrInsufficientStock)
	assert.Equal(t, 1, reservedOf(t, store, "p"))

	clock.Advance(5 * time.Minute)
	res, err = svc.SetQuantity(ctx, "s", "p", 1)
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, clock.Now().Add(10*time.Minute), *res.ExpiresAt, "unchanged quantity renews the hold")

	res, err = svc.SetQuantity(ctx, "s", "p", 0)
	require.NoError(t, err)
	assert.Zero(t, res.SessionQuantity)
	assert.Zero(t, res.ReservedQuantity)

	res, err = svc.SetQuantity(ctx, "s", "p", 0)
	require.NoError(t, err, "setting an absent line to zero is a no-op")
	assert.Nil(t, res.ExpiresAt)

	_, err = svc.SetQuantity(ctx, "s", "p", -1)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
}

func TestReleaseAllForSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 5, 0)
	seedProduct(t, store, "q", 5, 0)
	_, err := svc.Reserve(ctx, "s", "p", 2)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "s", "q", 3)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "other", "q", 1)
	require.NoError(t, err)

	n, err := svc.ReleaseAllForSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Zero(t, reservedOf(t, store, "p"))
	assert.Equal(t, 1, reservedOf(t, store, "q"))

	n, err = svc.ReleaseAllForSession(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, n)

	holds, err := svc.SessionHolds(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

// commitFailStore runs each atomic unit for failProduct to completion, then rolls it back
// as if the commit had failed.
type commitFailStore struct {
	*core.MemoryStore
	failProduct string
}

func (s commitFailStore) Atomic(ctx context.Context, productID string, fn func(tx core.Tx) error) error {
	return s.MemoryStore.Atomic(ctx, productID, func(tx core.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if productID == s.failProduct {
			return errors.New("commit failed")
		}
		return nil
	})
}

func TestReleaseAllForSession_CountsOnlyCommittedUnits(t *testing.T) {
	ctx := context.Background()
	mem := core.NewMemoryStore()
	seedProduct(t, mem, "p", 5, 0)
	seedProduct(t, mem, "q", 5, 0)
	_, err := core.NewReservationService(mem).Reserve(ctx, "s", "p", 2)
	require.NoError(t, err)
	_, err = core.NewReservationService(mem).Reserve(ctx, "s", "q", 3)
	require.NoError(t, err)

	svc := core.NewReservationService(commitFailStore{MemoryStore: mem, failProduct: "q"})
	n, err := svc.ReleaseAllForSession(ctx, "s")
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, reservedOf(t, mem, "p"))
	assert.Equal(t, 3, reservedOf(t, mem, "q"))
}

func TestBlankIdentifiersAreInvalidArguments(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 5, 0)

	_, err := svc.Reserve(ctx, " ", "p", 1)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = svc.Release(ctx, "s", "", 1)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = svc.ReleaseAllForSession(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = store.Initialize(ctx, core.InitializeRequest{ProductID: "  ", SKU: "X"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.True(t, core.IsBusinessError(err))
}

func TestRenewSession_ExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc, store := newService(t, core.WithClock(clock.Now), core.WithTTL(15*time.Minute))
	seedProduct(t, store, "p", 5, 0)
	seedProduct(t, store, "q", 5, 0)
	_, err := svc.Reserve(ctx, "s", "p", 1)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "s", "q", 1)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	n, err := svc.RenewSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	holds, err := svc.SessionHolds(ctx, "s")
	require.NoError(t, err)
	for _, h := range holds {
		assert.Equal(t, clock.Now().Add(15*time.Minute), h.ExpiresAt)
		assert.Equal(t, clock.Now(), h.RenewedAt)
	}
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	seedProduct(t, store, "p", 3, 0)

	a, err := svc.CheckAvailability(ctx, "p", 3)
	require.NoError(t, err)
	assert.True(t, a.Available)

	_, err = svc.CheckAvailability(ctx, "ghost", 1)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.CheckAvailability(ctx, "p", 0)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	assert.Zero(t, reservedOf(t, store, "p"), "availability checks reserve nothing")
}

// blockingStore holds every atomic unit until the caller's context gives up.
type blockingStore struct {
	*core.MemoryStore
}

func (s blockingStore) Atomic(ctx context.Context, productID string, fn func(tx core.Tx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReserve_TimeoutIsNotInsufficientStock(t *testing.T) {
	store := blockingStore{core.NewMemoryStore()}
	seedProduct(t, store, "p", 5, 0)
	svc := core.NewReservationService(store, core.WithOpTimeout(20*time.Millisecond))

	_, err := svc.Reserve(context.Background(), "s", "p", 1)
	require.ErrorIs(t, err, core.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, core.ErrInsufficientStock))
	assert.False(t, core.IsBusinessError(err))
}
