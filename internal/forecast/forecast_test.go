package forecast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

var initTime = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// shiftNetwork adds delta to every value of its input.
type shiftNetwork struct {
	delta  float32
	calls  atomic.Int32
	closed atomic.Bool
	hook   func(call int32)
}

func (n *shiftNetwork) Forward(_ context.Context, in domain.State) (domain.State, error) {
	call := n.calls.Add(1)
	if n.hook != nil {
		n.hook(call)
	}
	out := in.Clone()
	for i := range out.Data {
		out.Data[i] += n.delta
	}
	return out, nil
}

func (n *shiftNetwork) Close() error {
	n.closed.Store(true)
	return nil
}

type shrinkNetwork struct{}

func (shrinkNetwork) Forward(_ context.Context, in domain.State) (domain.State, error) {
	return domain.NewState(in.Channels-1, in.Lat, in.Lon), nil
}

type staticSource struct {
	net Network
	err error
}

func (s staticSource) Get(NetworkKey) (Network, error) { return s.net, s.err }

type recordingStepWriter struct {
	dir   string
	steps []domain.StepOutput
	err   error
}

func (w *recordingStepWriter) WriteStep(_ context.Context, out domain.StepOutput) ([]string, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.steps = append(w.steps, out)
	return []string{filepath.Join(w.dir, fmt.Sprintf("step_%03d.npz", out.StepHours))}, nil
}

type recordingDatasetWriter struct {
	dir string
	ds  domain.Dataset
}

func (w *recordingDatasetWriter) WriteDataset(dir string, ds domain.Dataset) (string, error) {
	w.dir, w.ds = dir, ds
	return filepath.Join(dir, domain.DatasetFileName(ds.InitTime, ds.LeadTimeHours)), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// uniformStatistics normalises every channel with mean 10 and std 2.
func uniformStatistics(channels int) domain.Statistics {
	means := make([]float32, channels)
	stds := make([]float32, channels)
	for i := range means {
		means[i], stds[i] = 10, 2
	}
	return domain.Statistics{Means: means, Stds: stds}
}

func fieldSnapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	lat, lon := []float64{1, -1}, []float64{0, 1, 2}
	fl := make(domain.FieldList, 0, len(domain.OrderingCML))
	for _, name := range domain.OrderingCML {
		param, level, ok := domain.PressureChannel(name)
		if !ok {
			param, level = name, 0
		}
		fl = append(fl, domain.Field{
			Param:     param,
			Level:     level,
			ValidTime: initTime,
			Lat:       lat,
			Lon:       lon,
			Values:    []float32{10, 10, 10, 10, 10, 10},
		})
	}
	snap, err := domain.SnapshotFromFields(fl)
	require.NoError(t, err)
	return snap
}

func datasetSnapshot() domain.Snapshot {
	state := domain.NewState(domain.BackboneChannels, 2, 3)
	for i := range state.Data {
		state.Data[i] = 10
	}
	return domain.Snapshot{
		InitTime: initTime,
		Lat:      []float64{1, -1},
		Lon:      []float64{0, 1, 2},
		Channels: append([]string(nil), domain.OrderingXR...),
		State:    state,
	}
}

type runnerFixture struct {
	runner   *Runner
	net      *shiftNetwork
	steps    *recordingStepWriter
	datasets *recordingDatasetWriter
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, logger *slog.Logger) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		net:      &shiftNetwork{delta: 1},
		steps:    &recordingStepWriter{},
		datasets: &recordingDatasetWriter{},
		metrics:  observability.NewMetricsForTesting(),
	}
	f.runner = NewRunner(Options{
		Network:    NetworkKey{AssetsDir: "assets"},
		Statistics: uniformStatistics(domain.BackboneChannels),
		OutputDir:  t.TempDir(),
		Clock:      clockwork.NewFakeClockAt(initTime),
	}, staticSource{net: f.net}, f.datasets, func(dir string) StepWriter {
		f.steps.dir = dir
		return f.steps
	}, logger, f.metrics)
	return f
}

func TestRunner_FieldPath(t *testing.T) {
	f := newFixture(t, discardLogger())
	req := domain.ForecastRequest{ID: "req-1", ModelVersion: "latest", LeadTimeHours: 18}

	res, err := f.runner.Run(context.Background(), req, fieldSnapshot(t))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 18, res.LeadTimeHours)
	assert.Equal(t, initTime, res.InitTime)
	assert.Len(t, res.OutputPaths, 3)
	assert.Equal(t, "req-1", filepath.Base(f.steps.dir))

	require.Len(t, f.steps.steps, 3)
	for k, step := range f.steps.steps {
		hours := (k + 1) * domain.HourSteps
		assert.Equal(t, k, step.Index)
		assert.Equal(t, hours, step.StepHours)
		assert.Equal(t, initTime.Add(time.Duration(hours)*time.Hour), step.ValidTime)
		require.Len(t, step.Fields, domain.BackboneChannels)

		// Normalised input is 0; each step adds 1, denormalised as 10 + 2k.
		want := float32(10 + 2*(k+1))
		for _, field := range step.Fields {
			assert.Equal(t, step.ValidTime, field.ValidTime)
			assert.Equal(t, []float32{want, want, want, want, want, want}, field.Values, field.Name())
		}
	}
	assert.Equal(t, "10u", f.steps.steps[0].Fields[0].Name())
	assert.Equal(t, "r1000", f.steps.steps[0].Fields[domain.BackboneChannels-1].Name())

	assert.Equal(t, int32(3), f.net.calls.Load())
	assert.InDelta(t, 3, testutil.ToFloat64(f.metrics.StepsCompleted), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.ForecastDuration))
}

func TestRunner_DatasetPath(t *testing.T) {
	f := newFixture(t, discardLogger())
	out := t.TempDir()
	req := domain.ForecastRequest{ID: "req-2", LeadTimeHours: 12, OutputDir: out}

	res, err := f.runner.Run(context.Background(), req, datasetSnapshot())
	require.NoError(t, err)

	assert.Equal(t, out, f.datasets.dir)
	assert.Equal(t, []string{filepath.Join(out, "fcnv2_2023-01-01T00_to_2023-01-01T12_ldt_12.nc")}, res.OutputPaths)
	assert.Empty(t, f.steps.steps)

	ds := f.datasets.ds
	assert.Equal(t, 12, ds.LeadTimeHours)
	assert.Equal(t, domain.StepTimes(initTime, 2), ds.Times)
	require.Len(t, ds.Variables, len(domain.SurfaceParamsXR)+len(domain.PressureParams))

	u10 := ds.Variables[0]
	assert.Equal(t, "u10", u10.Name)
	assert.Equal(t, []int{2, 2, 3}, u10.Shape)
	assert.Equal(t, []float32{12, 12, 12, 12, 12, 12, 14, 14, 14, 14, 14, 14}, u10.Values)
}

func TestRunner_TruncatesPartialStep(t *testing.T) {
	f := newFixture(t, discardLogger())
	req := domain.ForecastRequest{ID: "req-3", LeadTimeHours: 13}

	res, err := f.runner.Run(context.Background(), req, datasetSnapshot())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 12, res.LeadTimeHours)
	assert.Len(t, f.datasets.ds.Times, 2)
}

func TestRunner_LeadTimeShorterThanStep(t *testing.T) {
	f := newFixture(t, discardLogger())
	req := domain.ForecastRequest{ID: "req-4", LeadTimeHours: 5}

	_, err := f.runner.Run(context.Background(), req, datasetSnapshot())
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, f.net.calls.Load())
}

func TestRunner_CancelledBetweenSteps(t *testing.T) {
	f := newFixture(t, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.net.hook = func(int32) { cancel() }

	_, err := f.runner.Run(ctx, domain.ForecastRequest{ID: "req-5", LeadTimeHours: 24}, fieldSnapshot(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), f.net.calls.Load())
	assert.Len(t, f.steps.steps, 1)
}

func TestRunner_NaNFieldFailsStep(t *testing.T) {
	f := newFixture(t, discardLogger())
	f.steps.err = fmt.Errorf("step 6h: %w: z500", domain.ErrNaNField)

	_, err := f.runner.Run(context.Background(), domain.ForecastRequest{ID: "req-6", LeadTimeHours: 12}, fieldSnapshot(t))
	require.ErrorIs(t, err, domain.ErrNaNField)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.NaNFields), 0)
	assert.Equal(t, int32(1), f.net.calls.Load())
}

func TestRunner_NetworkShapeMismatch(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	runner := NewRunner(Options{Statistics: uniformStatistics(domain.BackboneChannels), OutputDir: t.TempDir()},
		staticSource{net: shrinkNetwork{}}, &recordingDatasetWriter{}, nil, discardLogger(), metrics)

	_, err := runner.Run(context.Background(), domain.ForecastRequest{ID: "req-7", LeadTimeHours: 6}, datasetSnapshot())
	require.ErrorIs(t, err, domain.ErrChannelMismatch)
}

func TestRunner_StatisticsMismatch(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	net := &shiftNetwork{}
	runner := NewRunner(Options{Statistics: uniformStatistics(3)},
		staticSource{net: net}, &recordingDatasetWriter{}, nil, discardLogger(), metrics)

	_, err := runner.Run(context.Background(), domain.ForecastRequest{ID: "req-8", LeadTimeHours: 6}, datasetSnapshot())
	require.ErrorIs(t, err, domain.ErrChannelMismatch)
	assert.Zero(t, net.calls.Load())
}

func TestRunner_NetworkUnavailable(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	runner := NewRunner(Options{Statistics: uniformStatistics(domain.BackboneChannels)},
		staticSource{err: errors.New("graph not found")}, &recordingDatasetWriter{}, nil, discardLogger(), metrics)

	_, err := runner.Run(context.Background(), domain.ForecastRequest{ID: "req-9", LeadTimeHours: 6}, datasetSnapshot())
	require.EqualError(t, err, "graph not found")
}

func TestRunner_DebugSummariesOnFirstStep(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, logger)

	_, err := f.runner.Run(context.Background(), domain.ForecastRequest{ID: "req-10", LeadTimeHours: 12}, fieldSnapshot(t))
	require.NoError(t, err)

	out := buf.String()
	assert.Equal(t, domain.BackboneChannels, bytes.Count(buf.Bytes(), []byte(`msg="normalised output"`)))
	assert.Equal(t, domain.BackboneChannels, bytes.Count(buf.Bytes(), []byte(`msg="denormalised output"`)))
	assert.Contains(t, out, "channel=10u")
	assert.Contains(t, out, "request_id=req-10")
}

func TestStepper_ProgressAndMetrics(t *testing.T) {
	clock := clockwork.NewFakeClockAt(initTime)
	metrics := observability.NewMetricsForTesting()
	var buf bytes.Buffer
	s := NewStepper(4, clock, slog.New(slog.NewTextHandler(&buf, nil)), metrics)

	clock.Advance(2 * time.Second)
	s.Step(0, 6)
	clock.Advance(2 * time.Second)
	s.Step(1, 12)

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.StepsCompleted), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.StepDuration))
	assert.Contains(t, buf.String(), `msg="forecast step" step=2 of=4 hours=12 elapsed=4s eta=4s`)

	assert.Equal(t, 4*time.Second, s.Done())
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ForecastDuration))
}

func TestNetworkCache_LoadsOncePerKey(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	var loads atomic.Int32
	cache := NewNetworkCache(func(NetworkKey) (Network, error) {
		loads.Add(1)
		return &shiftNetwork{}, nil
	}, 2, discardLogger(), metrics)

	key := NetworkKey{AssetsDir: "assets", Backend: "go"}
	first, err := cache.Get(key)
	require.NoError(t, err)
	second, err := cache.Get(key)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), loads.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.NetworkCache.WithLabelValues("miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.NetworkCache.WithLabelValues("hit")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.NetworkLoadDelay))
}

func TestNetworkCache_EvictsAndCloses(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	nets := map[string]*shiftNetwork{}
	cache := NewNetworkCache(func(key NetworkKey) (Network, error) {
		n := &shiftNetwork{}
		nets[key.Backend] = n
		return n, nil
	}, 1, discardLogger(), metrics)

	_, err := cache.Get(NetworkKey{AssetsDir: "assets", Backend: "go"})
	require.NoError(t, err)
	_, err = cache.Get(NetworkKey{AssetsDir: "assets", Backend: "xla:cpu"})
	require.NoError(t, err)

	assert.True(t, nets["go"].closed.Load())
	assert.False(t, nets["xla:cpu"].closed.Load())
	assert.Equal(t, 1, cache.cache.len())

	require.NoError(t, cache.Close())
	assert.True(t, nets["xla:cpu"].closed.Load())
	assert.Equal(t, 0, cache.cache.len())
}

func TestNetworkCache_ErrorsAreNotCached(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	var loads atomic.Int32
	cache := NewNetworkCache(func(NetworkKey) (Network, error) {
		if loads.Add(1) == 1 {
			return nil, errors.New("weights missing")
		}
		return &shiftNetwork{}, nil
	}, 1, discardLogger(), metrics)

	key := NetworkKey{AssetsDir: "assets"}
	_, err := cache.Get(key)
	require.ErrorContains(t, err, "weights missing")

	_, err = cache.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestNetworkKey_String(t *testing.T) {
	assert.Equal(t, "/models/fcnv2|xla:cuda", NetworkKey{AssetsDir: "/models/fcnv2", Backend: "xla:cuda"}.String())
}
