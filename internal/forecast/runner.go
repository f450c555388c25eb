// Package forecast runs the autoregressive rollout: the normalised state is
// fed through the network once per 6 h step and every denormalised output is
// handed back either as a field list or as one assembled dataset.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

// Network is one forward pass over a normalised [1, C, H, W] state.
type Network interface {
	Forward(ctx context.Context, in domain.State) (domain.State, error)
}

// NetworkSource hands out the compiled network for a key.
type NetworkSource interface {
	Get(key NetworkKey) (Network, error)
}

// StepWriter stores the fields of one step and returns the written paths.
type StepWriter interface {
	WriteStep(ctx context.Context, out domain.StepOutput) ([]string, error)
}

// DatasetWriter stores an assembled dataset under dir and returns its path.
type DatasetWriter interface {
	WriteDataset(dir string, ds domain.Dataset) (string, error)
}

// Options configures a Runner.
type Options struct {
	Network    NetworkKey
	Statistics domain.Statistics
	OutputDir  string
	Clock      clockwork.Clock
}

// Runner executes forecast requests against one set of model assets.
type Runner struct {
	opts          Options
	networks      NetworkSource
	datasets      DatasetWriter
	newStepWriter func(dir string) StepWriter
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewRunner creates a Runner. newStepWriter builds the writer for the field
// path in a per-request directory.
func NewRunner(opts Options, networks NetworkSource, datasets DatasetWriter, newStepWriter func(dir string) StepWriter,
	logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Runner{
		opts:          opts,
		networks:      networks,
		datasets:      datasets,
		newStepWriter: newStepWriter,
		logger:        logger,
		metrics:       metrics,
	}
}

// Run forecasts req.Steps() steps from snap. A snapshot carrying field
// templates takes the field path; otherwise the outputs are assembled into a
// dataset written once the rollout completes.
func (r *Runner) Run(ctx context.Context, req domain.ForecastRequest, snap domain.Snapshot) (domain.ForecastResult, error) {
	logger := r.logger.With("request_id", req.ID)

	if err := snap.Validate(); err != nil {
		return domain.ForecastResult{}, fmt.Errorf("forecast input: %w", err)
	}
	steps := req.Steps()
	if steps < 1 {
		return domain.ForecastResult{}, fmt.Errorf("%w: lead time %dh is shorter than one %dh step",
			domain.ErrInvalidRequest, req.LeadTimeHours, domain.HourSteps)
	}
	lead := steps * domain.HourSteps
	if lead != req.LeadTimeHours {
		logger.Warn("lead time truncated to whole steps", "requested", req.LeadTimeHours, "hours", lead)
	}

	net, err := r.networks.Get(r.opts.Network)
	if err != nil {
		return domain.ForecastResult{}, err
	}

	stats := r.opts.Statistics
	in, err := stats.Normalise(snap.State)
	if err != nil {
		return domain.ForecastResult{}, err
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = r.opts.OutputDir
	}
	fieldPath := snap.Templates != nil
	var sw StepWriter
	output := "dataset"
	if fieldPath {
		sw = r.newStepWriter(filepath.Join(outDir, req.ID))
		output = "fields"
	}

	logger.Info("forecast starting",
		"init_time", snap.InitTime,
		"steps", steps,
		"grid", fmt.Sprintf("%dx%d", snap.State.Lat, snap.State.Lon),
		"output", output,
	)

	stepper := NewStepper(steps, r.opts.Clock, logger, r.metrics)
	var outputs []domain.State
	var paths []string

	for i := range steps {
		if err := ctx.Err(); err != nil {
			return domain.ForecastResult{}, err
		}

		out, err := net.Forward(ctx, in)
		if err != nil {
			return domain.ForecastResult{}, fmt.Errorf("step %d: %w", i, err)
		}
		if out.Channels != in.Channels || out.Lat != in.Lat || out.Lon != in.Lon {
			return domain.ForecastResult{}, fmt.Errorf("step %d: %w: network returned %v for input %v",
				i, domain.ErrChannelMismatch, out.Dims(), in.Dims())
		}
		in = out
		hours := (i + 1) * domain.HourSteps

		if i == 0 {
			logSummaries(ctx, logger, "normalised output", out, snap.Channels)
		}
		denorm, err := stats.Denormalise(out)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		if i == 0 {
			logSummaries(ctx, logger, "denormalised output", denorm, snap.Channels)
		}

		validTime := snap.InitTime.Add(time.Duration(hours) * time.Hour)
		if fieldPath {
			written, err := r.writeStep(ctx, sw, i, hours, validTime, denorm, snap.Templates)
			if err != nil {
				return domain.ForecastResult{}, err
			}
			paths = append(paths, written...)
		} else {
			outputs = append(outputs, denorm)
		}

		stepper.Step(i, hours)
	}

	if !fieldPath {
		ds, err := domain.AssembleDataset(snap, outputs, lead)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		path, err := r.datasets.WriteDataset(outDir, ds)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		paths = append(paths, path)
	}

	elapsed := stepper.Done()
	logger.Info("forecast complete", "steps", steps, "outputs", len(paths), "elapsed", elapsed.Round(time.Millisecond))

	return domain.ForecastResult{
		RequestID:     req.ID,
		ModelVersion:  req.ModelVersion,
		Status:        domain.StatusSucceeded,
		InitTime:      snap.InitTime,
		LeadTimeHours: lead,
		Steps:         steps,
		OutputPaths:   paths,
		CompletedAt:   domain.Now().UTC(),
	}, nil
}

func (r *Runner) writeStep(ctx context.Context, sw StepWriter, i, hours int, validTime time.Time,
	denorm domain.State, templates domain.FieldList) ([]string, error) {
	fields, err := domain.StepFields(denorm, templates, validTime)
	if err != nil {
		return nil, err
	}
	written, err := sw.WriteStep(ctx, domain.StepOutput{
		Index:     i,
		StepHours: hours,
		ValidTime: validTime,
		Fields:    fields,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNaNField) {
			r.metrics.NaNFields.Inc()
		}
		return nil, fmt.Errorf("write step %dh: %w", hours, err)
	}
	return written, nil
}

// logSummaries dumps per-channel statistics at debug level.
func logSummaries(ctx context.Context, logger *slog.Logger, label string, s domain.State, names []string) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	summaries, err := domain.Summarize(s, names)
	if err != nil {
		logger.Debug("channel summary unavailable", "label", label, "error", err)
		return
	}
	for _, cs := range summaries {
		logger.Debug(label,
			"channel", cs.Name,
			"mean", cs.Mean,
			"std", cs.Std,
			"min", cs.Min,
			"max", cs.Max,
		)
	}
}
