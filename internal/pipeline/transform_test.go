package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/pipeline"
)

var testInit = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeRunner struct {
	req  domain.ForecastRequest
	snap domain.Snapshot
	err  error
	hook func()
}

func (f *fakeRunner) Run(ctx context.Context, req domain.ForecastRequest, snap domain.Snapshot) (domain.ForecastResult, error) {
	f.req, f.snap = req, snap
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return domain.ForecastResult{}, f.err
	}
	if err := ctx.Err(); err != nil {
		return domain.ForecastResult{}, err
	}
	return domain.ForecastResult{
		RequestID:     req.ID,
		ModelVersion:  req.ModelVersion,
		Status:        domain.StatusSucceeded,
		InitTime:      snap.InitTime,
		LeadTimeHours: req.LeadTimeHours,
		Steps:         req.Steps(),
		OutputPaths:   []string{"/out/fcnv2.nc"},
		CompletedAt:   domain.Now().UTC(),
	}, nil
}

type fakeSnapshotReader struct {
	snap  domain.Snapshot
	err   error
	paths []string
}

func (f *fakeSnapshotReader) ReadSnapshot(surfacePath, pressurePath string) (domain.Snapshot, error) {
	f.paths = []string{surfacePath, pressurePath}
	return f.snap, f.err
}

func noFields(string, time.Time) (domain.FieldList, error) {
	return nil, errors.New("field input not expected")
}

func netcdfRequest(t *testing.T, id string, lead int) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(domain.ForecastRequest{
		ID:            id,
		LeadTimeHours: lead,
		InputFormat:   domain.InputNetCDF,
		SurfacePath:   "/in/sfc.nc",
		PressurePath:  "/in/pl.nc",
	})
	require.NoError(t, err)
	return domain.RawEvent{Key: []byte(id), Value: data}
}

func decodeResult(t *testing.T, out domain.OutputEvent) domain.ForecastResult {
	t.Helper()
	var res domain.ForecastResult
	require.NoError(t, json.Unmarshal(out.Value, &res))
	return res
}

func freezeClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })
	return now
}

func TestForecastTransformer_NetCDFRequest(t *testing.T) {
	now := freezeClock(t)
	runner := &fakeRunner{}
	reader := &fakeSnapshotReader{snap: domain.Snapshot{InitTime: testInit}}
	tfm := pipeline.NewTransformer(runner, reader, noFields, 240, discardLogger(), observability.NewMetricsForTesting())

	out, err := tfm.Transform(context.Background(), netcdfRequest(t, "req-1", 24))
	require.NoError(t, err)

	assert.Equal(t, []string{"/in/sfc.nc", "/in/pl.nc"}, reader.paths)
	assert.Equal(t, []byte("req-1"), out.Key)
	assert.Equal(t, domain.StatusSucceeded, out.Headers["status"])

	want := domain.ForecastResult{
		RequestID:     "req-1",
		ModelVersion:  domain.DefaultModelVersion,
		Status:        domain.StatusSucceeded,
		InitTime:      testInit,
		LeadTimeHours: 24,
		Steps:         4,
		OutputPaths:   []string{"/out/fcnv2.nc"},
		CompletedAt:   now,
	}
	if diff := cmp.Diff(want, decodeResult(t, out)); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestForecastTransformer_DefaultLeadTime(t *testing.T) {
	runner := &fakeRunner{}
	tfm := pipeline.NewTransformer(runner, &fakeSnapshotReader{}, noFields, 72, discardLogger(), observability.NewMetricsForTesting())

	_, err := tfm.Forecast(context.Background(), netcdfRequest(t, "req-2", 0))
	require.NoError(t, err)
	assert.Equal(t, 72, runner.req.LeadTimeHours)
}

func TestForecastTransformer_FieldsRequest(t *testing.T) {
	runner := &fakeRunner{}
	var gotPath string
	var gotTime time.Time
	fields := func(path string, validTime time.Time) (domain.FieldList, error) {
		gotPath, gotTime = path, validTime
		return uniformFieldList(validTime, 1), nil
	}
	tfm := pipeline.NewTransformer(runner, &fakeSnapshotReader{}, fields, 240, discardLogger(), observability.NewMetricsForTesting())

	data, err := json.Marshal(domain.ForecastRequest{
		ID: "req-3", LeadTimeHours: 12, InputFormat: domain.InputFields,
		FieldsPath: "/in/fields.npz", InitTime: testInit,
	})
	require.NoError(t, err)

	res, err := tfm.Forecast(context.Background(), domain.RawEvent{Value: data})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Equal(t, "/in/fields.npz", gotPath)
	assert.Equal(t, testInit, gotTime)
	assert.Equal(t, domain.OrderingCML, runner.snap.Channels)
	assert.Len(t, runner.snap.Templates, domain.BackboneChannels)
}

func TestForecastTransformer_Failures(t *testing.T) {
	cases := []struct {
		name    string
		raw     func(t *testing.T) domain.RawEvent
		reader  *fakeSnapshotReader
		fields  pipeline.FieldListReader
		runErr  error
		stage   string
		wantID  string
		wantErr string
	}{
		{
			name:    "malformed request",
			raw:     func(*testing.T) domain.RawEvent { return domain.RawEvent{Key: []byte("bad-1"), Value: []byte("{")} },
			stage:   "parse",
			wantID:  "bad-1",
			wantErr: "invalid forecast request",
		},
		{
			name:    "unknown model version",
			raw:     func(*testing.T) domain.RawEvent { return domain.RawEvent{Value: []byte(`{"id":"v9","model_version":"v9","input_format":"fields","fields_path":"x"}`)} },
			stage:   "parse",
			wantID:  "v9",
			wantErr: "unknown model version",
		},
		{
			name: "fields without init time",
			raw: func(*testing.T) domain.RawEvent {
				return domain.RawEvent{Value: []byte(`{"id":"req-9","lead_time_hours":6,"input_format":"fields","fields_path":"f.npz"}`)}
			},
			stage:   "parse",
			wantID:  "req-9",
			wantErr: "needs init_time",
		},
		{
			name:    "unreadable netcdf",
			raw:     func(t *testing.T) domain.RawEvent { return netcdfRequest(t, "req-4", 6) },
			reader:  &fakeSnapshotReader{err: errors.New("open /in/sfc.nc: no such file or directory")},
			stage:   "input",
			wantID:  "req-4",
			wantErr: "no such file",
		},
		{
			name: "incomplete field list",
			raw: func(*testing.T) domain.RawEvent {
				return domain.RawEvent{Value: []byte(`{"id":"req-5","lead_time_hours":6,"input_format":"fields","fields_path":"f.npz","init_time":"2023-01-01T00:00:00Z"}`)}
			},
			fields: func(_ string, validTime time.Time) (domain.FieldList, error) {
				return uniformFieldList(validTime, 1)[1:], nil
			},
			stage:   "input",
			wantID:  "req-5",
			wantErr: "missing field: 10u",
		},
		{
			name:    "network failure",
			raw:     func(t *testing.T) domain.RawEvent { return netcdfRequest(t, "req-6", 6) },
			runErr:  errors.New("step 0: backend out of memory"),
			stage:   "forecast",
			wantID:  "req-6",
			wantErr: "out of memory",
		},
		{
			name:    "nan output",
			raw:     func(t *testing.T) domain.RawEvent { return netcdfRequest(t, "req-7", 6) },
			runErr:  fmt.Errorf("write step 6h: %w: z500", domain.ErrNaNField),
			stage:   "write",
			wantID:  "req-7",
			wantErr: "NaN",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := observability.NewMetricsForTesting()
			reader := tc.reader
			if reader == nil {
				reader = &fakeSnapshotReader{}
			}
			fields := tc.fields
			if fields == nil {
				fields = noFields
			}
			tfm := pipeline.NewTransformer(&fakeRunner{err: tc.runErr}, reader, fields, 240, discardLogger(), metrics)

			out, err := tfm.Transform(context.Background(), tc.raw(t))
			require.NoError(t, err)

			res := decodeResult(t, out)
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, domain.StatusFailed, out.Headers["status"])
			assert.Equal(t, tc.wantID, res.RequestID)
			assert.Contains(t, res.Error, tc.wantErr)
			assert.Zero(t, res.Steps)
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.ForecastFailures.WithLabelValues(tc.stage)), 0)
		})
	}
}

func TestForecastTransformer_ShutdownIsNotReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	metrics := observability.NewMetricsForTesting()
	runner := &fakeRunner{hook: cancel}
	tfm := pipeline.NewTransformer(runner, &fakeSnapshotReader{}, noFields, 240, discardLogger(), metrics)

	_, err := tfm.Transform(ctx, netcdfRequest(t, "req-8", 6))
	require.ErrorIs(t, err, context.Canceled)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.ForecastFailures.WithLabelValues("forecast")), 0)
}

// uniformFieldList builds a complete host field list on a 2x3 grid.
func uniformFieldList(validTime time.Time, value float32) domain.FieldList {
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
			ValidTime: validTime,
			Lat:       lat,
			Lon:       lon,
			Values:    []float32{value, value, value, value, value, value},
		})
	}
	return fl
}
