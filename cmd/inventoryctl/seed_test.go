package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmstock/internal/app"
	"pharmstock/internal/core"
)

const catalog = `
products:
  - product_id: amox-500
    sku: AMX-500-21
    stock: 40
    reorder_level: 10
    cost: "3.25"
  - product_id: ibu-200
    sku: IBU-200-24
    stock: 5
`

func newSeedService() app.ApplicationService {
	store := core.NewMemoryStore()
	return app.NewAppService(store, core.NewReservationService(store), core.NewReportingService(store), nil)
}

func TestSeedFromYAML_IsRerunnable(t *testing.T) {
	ctx := context.Background()
	svc := newSeedService()

	created, skipped, err := seedFromYAML(ctx, svc, strings.NewReader(catalog), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Zero(t, skipped)

	created, skipped, err = seedFromYAML(ctx, svc, strings.NewReader(catalog), zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 2, skipped)

	res, err := svc.GetInventory(ctx, "amox-500")
	require.NoError(t, err)
	assert.Equal(t, 40, res.Record.StockQuantity)
	assert.Equal(t, 10, res.Record.ReorderLevel)
	require.NotNil(t, res.Record.CostPrice)
	assert.Equal(t, "3.25", res.Record.CostPrice.String())
}

func TestSeedFromYAML_StopsOnInvalidEntry(t *testing.T) {
	svc := newSeedService()
	_, _, err := seedFromYAML(context.Background(), svc, strings.NewReader(`
products:
  - product_id: a
    sku: A
    stock: 1
  - product_id: b
    sku: A
    stock: 1
`), zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSKUTaken))
}

func TestSeedFromYAML_BadCost(t *testing.T) {
	_, _, err := seedFromYAML(context.Background(), newSeedService(), strings.NewReader(`
products:
  - {product_id: a, sku: A, stock: 1, cost: cheap}
`), zerolog.Nop())
	assert.ErrorContains(t, err, "products[0]")
}
