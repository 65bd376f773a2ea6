package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	webAdapter "pharmstock/internal/adapters/web"
	"pharmstock/internal/app"
	"pharmstock/internal/bootstrap"
	"pharmstock/internal/config"
	"pharmstock/internal/core"
	"pharmstock/internal/db"
	"pharmstock/internal/logging"
)

const usage = `Usage: inventoryctl <command> [flags]

Commands:
  migrate                                     apply pending database migrations
  init -product ID -sku SKU -stock N [-reorder N] [-cost D]
  adjust -product ID -stock N [-reorder N] [-cost D] [-sku SKU]
  restock -product ID -qty N
  get -product ID                             record with hold reconciliation
  below-reorder [-limit N]
  sweep                                       reclaim expired holds once
  seed -file catalog.yaml                     initialize products from a YAML catalog
  token [-session ID] [-role admin] [-ttl 1h] mint an API token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.LogLevel, "console", "inventoryctl")

	if err := run(context.Background(), cfg, log, os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger, cmd string, args []string) error {
	switch cmd {
	case "token":
		return mintToken(cfg, args)
	case "migrate":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return db.Migrate(ctx, pool, log)
	}

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []core.Option{
		core.WithTTL(cfg.ReservationTTL),
		core.WithOpTimeout(cfg.ReservationOpTimeout),
		core.WithLogger(log),
	}
	sweeper := core.NewSweeper(store, cfg.SweepInterval, cfg.SweepBatchSize, nil, opts...)
	svc := app.NewAppService(store, core.NewReservationService(store, opts...), core.NewReportingService(store), sweeper)

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	product := fs.String("product", "", "product ID")
	sku := fs.String("sku", "", "stock keeping unit")
	stock := fs.Int("stock", -1, "stock quantity")
	reorder := fs.Int("reorder", -1, "reorder level")
	cost := fs.String("cost", "", "unit cost price")
	qty := fs.Int("qty", 0, "quantity")
	limit := fs.Int("limit", 0, "maximum rows, 0 for all")
	file := fs.String("file", "", "seed catalog path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	costPrice, err := parseCost(*cost)
	if err != nil {
		return err
	}

	switch cmd {
	case "init":
		if *product == "" || *sku == "" || *stock < 0 {
			return fmt.Errorf("init requires -product, -sku and -stock")
		}
		res, err := svc.InitializeInventory(ctx, app.InitializeInventoryRequest{
			ProductID:    *product,
			SKU:          *sku,
			InitialStock: *stock,
			ReorderLevel: max(*reorder, 0),
			CostPrice:    costPrice,
		})
		if err != nil {
			return err
		}
		return printJSON(res.Record)

	case "adjust":
		if *product == "" || *stock < 0 {
			return fmt.Errorf("adjust requires -product and -stock")
		}
		req := app.AdjustInventoryRequest{ProductID: *product, StockQuantity: *stock, CostPrice: costPrice}
		if *reorder >= 0 {
			req.ReorderLevel = reorder
		}
		if *sku != "" {
			req.SKU = sku
		}
		res, err := svc.AdjustInventory(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(res.Record)

	case "restock":
		res, err := svc.RestockInventory(ctx, app.RestockRequest{ProductID: *product, Quantity: *qty})
		if err != nil {
			return err
		}
		return printJSON(res.Record)

	case "get":
		res, err := svc.GetInventory(ctx, *product)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "below-reorder":
		res, err := svc.ListBelowReorderLevel(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(res.Levels)

	case "sweep":
		stats, err := svc.SweepExpired(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "seed":
		if *file == "" {
			return fmt.Errorf("seed requires -file")
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		created, skipped, err := seedFromYAML(ctx, svc, f, log)
		if err != nil {
			return err
		}
		log.Info().Int("created", created).Int("skipped", skipped).Msg("seed complete")
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func mintToken(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	session := fs.String("session", "", "cart session ID (sid claim)")
	role := fs.String("role", "", "role claim, admin for inventory administration")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if *session == "" && *role == "" {
		return fmt.Errorf("token requires -session or -role")
	}
	tok, err := webAdapter.MintToken(cfg.JWTSecret, *session, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func parseCost(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid -cost %q: %w", s, err)
	}
	return &d, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
