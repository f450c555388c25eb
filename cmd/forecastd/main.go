// Command forecastd consumes forecast requests from Kafka, runs
// FourCastNetv2 for each, and publishes the results.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/fieldstore"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/httpadapter"
	kafkaadapter "github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/kafka"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/netcdf"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/app"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/config"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	forecaster, err := app.NewForecaster(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to prepare forecaster", "error", err)
		os.Exit(1)
	}
	if err := forecaster.Warm(); err != nil {
		logger.Error("failed to load network", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(forecaster.Runner, netcdf.NewReader(logger), fieldstore.ReadFieldList,
		cfg.DefaultLeadTime, logger, metrics)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return p.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
	}

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := forecaster.Close(); err != nil {
		logger.Error("network close error", "error", err)
	}

	logger.Info("shutdown complete")
}
