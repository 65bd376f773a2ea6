package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"pharmstock/internal/app"
	"pharmstock/internal/core"
)

// catalogEntry is one product in a seed file.
type catalogEntry struct {
	ProductID    string `yaml:"product_id"`
	SKU          string `yaml:"sku"`
	Stock        int    `yaml:"stock"`
	ReorderLevel int    `yaml:"reorder_level"`
	Cost         string `yaml:"cost"`
}

type seedCatalog struct {
	Products []catalogEntry `yaml:"products"`
}

// seedFromYAML initializes every product in the catalog. Products that already exist
// are left untouched, so re-running a seed is safe.
func seedFromYAML(ctx context.Context, svc app.ApplicationService, r io.Reader, log zerolog.Logger) (created, skipped int, err error) {
	var catalog seedCatalog
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		return 0, 0, fmt.Errorf("failed to parse seed catalog: %w", err)
	}
	for i, p := range catalog.Products {
		cost, err := parseCost(p.Cost)
		if err != nil {
			return created, skipped, fmt.Errorf("products[%d]: %w", i, err)
		}
		_, err = svc.InitializeInventory(ctx, app.InitializeInventoryRequest{
			ProductID:    p.ProductID,
			SKU:          p.SKU,
			InitialStock: p.Stock,
			ReorderLevel: p.ReorderLevel,
			CostPrice:    cost,
		})
		switch {
		case errors.Is(err, core.ErrAlreadyExists):
			log.Info().Str("product_id", p.ProductID).Msg("already seeded, skipping")
			skipped++
		case err != nil:
			return created, skipped, fmt.Errorf("products[%d] %s: %w", i, p.ProductID, err)
		default:
			created++
		}
	}
	return created, skipped, nil
}
