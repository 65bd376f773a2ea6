package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	webAdapter "pharmstock/internal/adapters/web"
	"pharmstock/internal/app"
	"pharmstock/internal/bootstrap"
	"pharmstock/internal/config"
	"pharmstock/internal/core"
	"pharmstock/internal/logging"
	"pharmstock/internal/metrics"
	"pharmstock/internal/tracing"
)

const serviceName = "pharmstock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(os.Stderr, "info", "json", serviceName)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, serviceName)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set, every authenticated route will reject requests")
	}

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := bootstrap.NewLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, closePublisher := bootstrap.NewAlertPublisher(cfg, log)
	defer closePublisher()

	m := metrics.New()
	opts := []core.Option{
		core.WithTTL(cfg.ReservationTTL),
		core.WithOpTimeout(cfg.ReservationOpTimeout),
		core.WithLogger(log),
		core.WithMetrics(m),
	}
	reservations := core.NewReservationService(store, opts...)
	reporting := core.NewReportingService(store)
	sweeper := core.NewSweeper(store, cfg.SweepInterval, cfg.SweepBatchSize, locker, opts...)
	alerter := core.NewRestockAlerter(store, publisher, cfg.RestockAlertInterval, opts...)

	svc := app.NewAppService(store, reservations, reporting, sweeper)
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           webAdapter.NewHandler(svc, cfg.AllowedOrigins, cfg.JWTSecret, log, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return alerter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
