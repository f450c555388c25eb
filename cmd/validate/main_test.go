package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/fieldstore"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/netcdf"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

var initTime = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func testSnapshot() domain.Snapshot {
	state := domain.NewState(domain.BackboneChannels, 2, 3)
	for i := range state.Data {
		state.Data[i] = float32(i % 17)
	}
	return domain.Snapshot{
		InitTime: initTime,
		Lat:      []float64{45, -45},
		Lon:      []float64{0, 120, 240},
		Channels: append([]string(nil), domain.OrderingXR...),
		State:    state,
	}
}

func writeDataset(t *testing.T, outputs []domain.State, lead int) domain.Dataset {
	t.Helper()
	ds, err := domain.AssembleDataset(testSnapshot(), outputs, lead)
	require.NoError(t, err)
	path, err := netcdf.NewWriter(slog.New(slog.NewTextHandler(io.Discard, nil))).WriteDataset(t.TempDir(), ds)
	require.NoError(t, err)
	read, err := netcdf.ReadDataset(path)
	require.NoError(t, err)
	return read
}

func failures(phases []*phase) map[string][]string {
	out := map[string][]string{}
	for _, p := range phases {
		if !p.passed() {
			out[p.name] = p.errors
		}
	}
	return out
}

func TestValidateDataset_Passes(t *testing.T) {
	snap := testSnapshot()
	ds := writeDataset(t, []domain.State{snap.State, snap.State}, 12)

	assert.Empty(t, failures(validateDataset(ds, 0, 0.01)))
}

func TestValidateDataset_LeadTimeMismatch(t *testing.T) {
	snap := testSnapshot()
	ds := writeDataset(t, []domain.State{snap.State, snap.State}, 12)

	got := failures(validateDataset(ds, 24, 0.01))
	require.Contains(t, got, "time axis")
	assert.Contains(t, got["time axis"][0], "2 time steps, want 4")
}

func TestValidateDataset_TooManyMissing(t *testing.T) {
	snap := testSnapshot()
	bad := snap.State.Clone()
	for i := range bad.Channel(0) {
		bad.Channel(0)[i] = float32(math.NaN())
	}
	ds := writeDataset(t, []domain.State{bad}, 6)

	got := failures(validateDataset(ds, 0, 0.01))
	require.Contains(t, got, "missing values")
	assert.Contains(t, got["missing values"][0], "u10")
}

func TestValidateDataset_MissingVariable(t *testing.T) {
	snap := testSnapshot()
	ds := writeDataset(t, []domain.State{snap.State}, 6)
	ds.Variables = ds.Variables[1:]

	got := failures(validateDataset(ds, 0, 0.01))
	assert.Equal(t, []string{"missing variable u10"}, got["variables"])
}

func TestValidateFieldOutputs(t *testing.T) {
	dir := t.TempDir()
	w := fieldstore.NewWriter(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	snap := testSnapshot()
	templates := make(domain.FieldList, 0, domain.BackboneChannels)
	for _, name := range domain.OrderingCML {
		param, level, ok := domain.PressureChannel(name)
		if !ok {
			param, level = name, 0
		}
		templates = append(templates, domain.Field{Param: param, Level: level, Lat: snap.Lat, Lon: snap.Lon})
	}
	for k := range 2 {
		hours := (k + 1) * domain.HourSteps
		valid := initTime.Add(time.Duration(hours) * time.Hour)
		fields, err := domain.StepFields(snap.State, templates, valid)
		require.NoError(t, err)
		_, err = w.WriteStep(context.Background(), domain.StepOutput{Index: k, StepHours: hours, ValidTime: valid, Fields: fields})
		require.NoError(t, err)
	}

	assert.Empty(t, failures(validateFieldOutputs(dir, 12)))

	got := failures(validateFieldOutputs(dir, 18))
	assert.Equal(t, []string{"2 step archives, want 3 for 18h"}, got["step files"])
}

func TestValidateFieldOutputs_Empty(t *testing.T) {
	got := failures(validateFieldOutputs(t.TempDir(), 6))
	assert.Contains(t, got, "step files")
}
