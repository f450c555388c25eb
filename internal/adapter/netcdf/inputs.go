package netcdf

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ctessum/cdf"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

// era5TimeUnits is the time encoding of ERA5 downloads.
const era5TimeUnits = "hours since 1900-01-01 00:00:00.0"

var era5Epoch = mustParseEpoch()

func mustParseEpoch() float64 {
	t, err := domain.ParseCFTime(0, era5TimeUnits)
	if err != nil {
		panic(err)
	}
	return domain.HoursSinceEpoch(t)
}

// WriteInputs writes snap as an ERA5-style pair of single-level and
// pressure-level files, the layout ReadSnapshot consumes. snap must be in
// OrderingXR or OrderingCML order; pressure levels are stored 1000 hPa first.
func WriteInputs(surfacePath, pressurePath string, snap domain.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if snap.State.Channels != domain.BackboneChannels {
		return fmt.Errorf("%w: snapshot has %d channels, want %d", domain.ErrChannelMismatch, snap.State.Channels, domain.BackboneChannels)
	}
	hours := domain.HoursSinceEpoch(snap.InitTime) - era5Epoch

	// Single-level file.
	h := era5Header(len(snap.Lat), len(snap.Lon), false)
	for _, name := range domain.SurfaceParamsXR {
		h.AddVariable(name, []string{"time", "latitude", "longitude"}, []float32{0})
	}
	err := createInputFile(surfacePath, h, snap, hours, func(nc *cdf.File) error {
		for c, name := range domain.SurfaceParamsXR {
			if err := writeValues(nc, name, []int{0, 0, 0}, []int{1, 0, 0}, snap.State.Channel(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Pressure-level file.
	h = era5Header(len(snap.Lat), len(snap.Lon), true)
	for _, param := range domain.PressureParams {
		h.AddVariable(param, []string{"time", "level", "latitude", "longitude"}, []float32{0})
	}
	return createInputFile(pressurePath, h, snap, hours, func(nc *cdf.File) error {
		levels := make([]int32, len(domain.PressureLevels))
		for i, l := range domain.PressureLevels {
			levels[i] = int32(l)
		}
		if err := writeValues(nc, "level", []int{0}, []int{len(levels)}, levels); err != nil {
			return err
		}
		channelLevels := domain.ChannelLevels()
		plane := snap.State.PlaneSize()
		for j, param := range domain.PressureParams {
			cube := make([]float32, 0, len(levels)*plane)
			for _, l := range domain.PressureLevels {
				k := slices.Index(channelLevels, l)
				c := domain.NumSurfaceChannels + j*len(channelLevels) + k
				cube = append(cube, snap.State.Channel(c)...)
			}
			if err := writeValues(nc, param, []int{0, 0, 0, 0}, []int{1, 0, 0, 0}, cube); err != nil {
				return err
			}
		}
		return nil
	})
}

func era5Header(nLat, nLon int, withLevels bool) *cdf.Header {
	dims := []string{"time", "latitude", "longitude"}
	lengths := []int{0, nLat, nLon}
	if withLevels {
		dims = append(dims, "level")
		lengths = append(lengths, len(domain.PressureLevels))
	}
	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "Conventions", "CF-1.6")

	h.AddVariable("time", []string{"time"}, []int32{0})
	h.AddAttribute("time", "units", era5TimeUnits)
	h.AddAttribute("time", "calendar", "gregorian")
	h.AddVariable("latitude", []string{"latitude"}, []float32{0})
	h.AddAttribute("latitude", "units", "degrees_north")
	h.AddVariable("longitude", []string{"longitude"}, []float32{0})
	h.AddAttribute("longitude", "units", "degrees_east")
	if withLevels {
		h.AddVariable("level", []string{"level"}, []int32{0})
		h.AddAttribute("level", "units", "millibars")
	}
	return h
}

func createInputFile(path string, h *cdf.Header, snap domain.Snapshot, hours float64, writeData func(*cdf.File) error) error {
	h.Define()
	if err := errors.Join(h.Check()...); err != nil {
		return fmt.Errorf("netcdf header: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("create netcdf %s: %w", path, err)
	}
	if err := writeValues(nc, "time", []int{0}, []int{1}, []int32{int32(hours)}); err != nil {
		return err
	}
	if err := writeValues(nc, "latitude", []int{0}, []int{len(snap.Lat)}, toFloat32s(snap.Lat)); err != nil {
		return err
	}
	if err := writeValues(nc, "longitude", []int{0}, []int{len(snap.Lon)}, toFloat32s(snap.Lon)); err != nil {
		return err
	}
	if err := writeData(nc); err != nil {
		return err
	}
	return finishRecords(f, h)
}

func toFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
