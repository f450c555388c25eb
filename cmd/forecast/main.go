// Command forecast runs a single FourCastNetv2 forecast from local inputs and
// prints the result as JSON.
//
// Usage:
//
//	go run ./cmd/forecast \
//	  -surface data/sfc.nc -pressure data/pl.nc \
//	  -lead-time 240 -output out/
//
//	go run ./cmd/forecast -fields data/fields.npz -init-time 2023-01-01T00:00:00Z
//
// Asset, backend and logging settings come from the same environment
// variables as forecastd; flags override them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/fieldstore"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/netcdf"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/app"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/config"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	surface := flag.String("surface", "", "single-level NetCDF input")
	pressure := flag.String("pressure", "", "pressure-level NetCDF input")
	fields := flag.String("fields", "", "npz field list input (instead of -surface/-pressure)")
	initTime := flag.String("init-time", "", "RFC3339 valid time of a field list input (required with -fields)")
	lead := flag.Int("lead-time", cfg.DefaultLeadTime, "forecast length in hours")
	output := flag.String("output", "", "output directory (default: models config or OUTPUT_DIR)")
	id := flag.String("id", "", "request ID (default: random)")
	version := flag.String("model-version", domain.DefaultModelVersion, "model version")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "model assets directory")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "gomlx backend configuration")
	flag.BoolVar(&cfg.DownloadEnabled, "download", cfg.DownloadEnabled, "download missing assets")
	flag.Parse()

	req := domain.ForecastRequest{
		ID:            *id,
		ModelVersion:  *version,
		LeadTimeHours: *lead,
		OutputDir:     *output,
	}
	switch {
	case *fields != "":
		req.InputFormat, req.FieldsPath = domain.InputFields, *fields
		t, err := time.Parse(time.RFC3339, *initTime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "-fields needs a valid -init-time: %v\n", err)
			return 2
		}
		req.InitTime = t
	case *surface != "" && *pressure != "":
		req.InputFormat, req.SurfacePath, req.PressurePath = domain.InputNetCDF, *surface, *pressure
	default:
		flag.Usage()
		return 2
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	forecaster, err := app.NewForecaster(ctx, cfg, logger, metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prepare forecaster: %v\n", err)
		return 1
	}
	defer forecaster.Close() //nolint:errcheck // released on exit

	payload, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode request: %v\n", err)
		return 1
	}

	transformer := pipeline.NewTransformer(forecaster.Runner, netcdf.NewReader(logger), fieldstore.ReadFieldList,
		cfg.DefaultLeadTime, logger, metrics)
	res, err := transformer.Forecast(ctx, domain.RawEvent{Value: payload})
	if err != nil {
		fmt.Fprintf(os.Stderr, "forecast interrupted: %v\n", err)
		return 130
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return 1
	}
	if res.Status != domain.StatusSucceeded {
		return 1
	}
	return 0
}
