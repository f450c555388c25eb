// Package app assembles the forecast runner from configuration: asset
// download, statistics, the network cache and the output writers.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/assets"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/fieldstore"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/netcdf"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/onnxnet"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/config"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/forecast"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

// Forecaster bundles a runner with the network cache it draws from.
type Forecaster struct {
	Runner    *forecast.Runner
	Networks  *forecast.NetworkCache
	Key       forecast.NetworkKey
	OutputDir string
}

// NewForecaster prepares the assets named by cfg and builds a Runner. The
// network itself is compiled on first use unless Warm is called.
func NewForecaster(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Forecaster, error) {
	return newForecaster(ctx, cfg, logger, metrics, loadNetwork(logger))
}

func newForecaster(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics,
	load forecast.NetworkLoader) (*Forecaster, error) {
	if cfg.DownloadEnabled {
		d := assets.NewDownloader(cfg.DownloadURL, cfg.DownloadTimeout, logger, metrics)
		if err := d.Ensure(ctx, cfg.AssetsDir); err != nil {
			return nil, fmt.Errorf("download assets: %w", err)
		}
	}

	models, err := assets.LoadModelsConfig(cfg.ModelsConfig)
	if err != nil {
		return nil, err
	}
	outputDir := models.OutputFolder(cfg.OutputDir)

	stats, err := assets.LoadStatistics(cfg.AssetsDir, domain.BackboneChannels, logger)
	if err != nil {
		return nil, err
	}

	key := forecast.NetworkKey{AssetsDir: cfg.AssetsDir, Backend: cfg.Backend}
	cache := forecast.NewNetworkCache(load, cfg.ModelCacheSize, logger, metrics)
	runner := forecast.NewRunner(forecast.Options{
		Network:    key,
		Statistics: stats,
		OutputDir:  outputDir,
	}, cache, netcdf.NewWriter(logger), func(dir string) forecast.StepWriter {
		return fieldstore.NewWriter(dir, logger)
	}, logger, metrics)

	logger.Info("forecaster ready", "assets", cfg.AssetsDir, "backend", cfg.Backend, "output", outputDir)
	return &Forecaster{Runner: runner, Networks: cache, Key: key, OutputDir: outputDir}, nil
}

// Warm compiles the network ahead of the first request.
func (f *Forecaster) Warm() error {
	_, err := f.Networks.Get(f.Key)
	return err
}

// Close releases the cached networks.
func (f *Forecaster) Close() error {
	return f.Networks.Close()
}

func loadNetwork(logger *slog.Logger) forecast.NetworkLoader {
	return func(key forecast.NetworkKey) (forecast.Network, error) {
		files := assets.DefaultFiles.In(key.AssetsDir)
		net, err := onnxnet.Load(onnxnet.Options{
			GraphPath:   files.Graph,
			WeightsPath: files.Weights,
			Backend:     key.Backend,
		}, logger)
		if err != nil {
			return nil, err
		}
		return net, nil
	}
}
