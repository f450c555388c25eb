package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

// SnapshotReader loads a NetCDF single-level and pressure-level input pair.
type SnapshotReader interface {
	ReadSnapshot(surfacePath, pressurePath string) (domain.Snapshot, error)
}

// FieldListReader loads a host field list stamped with validTime.
type FieldListReader func(path string, validTime time.Time) (domain.FieldList, error)

// Runner executes one forecast.
type Runner interface {
	Run(ctx context.Context, req domain.ForecastRequest, snap domain.Snapshot) (domain.ForecastResult, error)
}

// ForecastTransformer implements Transformer: it parses a request, loads its
// input, runs the forecast and reports the outcome. Every failure except
// shutdown becomes a result with status "failed".
type ForecastTransformer struct {
	runner      Runner
	netcdf      SnapshotReader
	fields      FieldListReader
	defaultLead int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewTransformer creates a ForecastTransformer. Requests without a lead time
// use defaultLead hours.
func NewTransformer(runner Runner, netcdf SnapshotReader, fields FieldListReader, defaultLead int,
	logger *slog.Logger, metrics *observability.Metrics) *ForecastTransformer {
	return &ForecastTransformer{
		runner:      runner,
		netcdf:      netcdf,
		fields:      fields,
		defaultLead: defaultLead,
		logger:      logger,
		metrics:     metrics,
	}
}

func (t *ForecastTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	res, err := t.Forecast(ctx, raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	return domain.SerializeForecastResult(res)
}

// Forecast handles one request. The error is non-nil only when ctx was
// cancelled mid-run; the request should then be retried, not reported.
func (t *ForecastTransformer) Forecast(ctx context.Context, raw domain.RawEvent) (domain.ForecastResult, error) {
	req, err := domain.ParseForecastRequest(raw, t.defaultLead)
	if err != nil {
		return t.fail(req, "parse", err), nil
	}
	logger := t.logger.With("request_id", req.ID)
	logger.Info("forecast request received",
		"input_format", req.InputFormat,
		"lead_time_hours", req.LeadTimeHours,
		"model_version", req.ModelVersion,
	)

	snap, err := t.readInput(req)
	if err != nil {
		return t.fail(req, "input", err), nil
	}

	res, err := t.runner.Run(ctx, req, snap)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logger.Warn("forecast interrupted", "error", err)
			return domain.ForecastResult{}, err
		}
		stage := "forecast"
		if errors.Is(err, domain.ErrNaNField) {
			stage = "write"
		}
		return t.fail(req, stage, err), nil
	}
	return res, nil
}

func (t *ForecastTransformer) readInput(req domain.ForecastRequest) (domain.Snapshot, error) {
	switch req.InputFormat {
	case domain.InputNetCDF:
		return t.netcdf.ReadSnapshot(req.SurfacePath, req.PressurePath)
	case domain.InputFields:
		fl, err := t.fields(req.FieldsPath, req.InitTime)
		if err != nil {
			return domain.Snapshot{}, err
		}
		return domain.SnapshotFromFields(fl)
	default:
		return domain.Snapshot{}, fmt.Errorf("%w: unknown input_format %q", domain.ErrInvalidRequest, req.InputFormat)
	}
}

func (t *ForecastTransformer) fail(req domain.ForecastRequest, stage string, err error) domain.ForecastResult {
	t.metrics.ForecastFailures.WithLabelValues(stage).Inc()
	t.logger.Error("forecast failed", "request_id", req.ID, "stage", stage, "error", err)
	return domain.FailedResult(req, err)
}
