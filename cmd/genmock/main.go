// Command genmock writes a synthetic FourCastNetv2 input set on a small grid:
// an ERA5-style single-level and pressure-level NetCDF pair, the same state as
// an npz field list, and matching global_means.npy / global_stds.npy.
//
// The fields are smooth analytic patterns with plausible magnitudes per
// parameter, so normalisation and packing behave as on real data.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -nlat 33 -nlon 64 -init-time 2023-01-01T00:00:00Z
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/assets"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/fieldstore"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/netcdf"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock", "output directory")
	nLat := flag.Int("nlat", 33, "number of latitudes (pole to pole)")
	nLon := flag.Int("nlon", 64, "number of longitudes")
	initStr := flag.String("init-time", "2023-01-01T00:00:00Z", "RFC3339 initial time")
	seed := flag.Uint64("seed", 1, "noise seed")
	flag.Parse()

	if *nLat < 2 || *nLon < 1 {
		return fmt.Errorf("grid %dx%d is too small", *nLat, *nLon)
	}
	initTime, err := time.Parse(time.RFC3339, *initStr)
	if err != nil {
		return fmt.Errorf("invalid -init-time: %w", err)
	}

	snap := synthesize(*nLat, *nLon, initTime.UTC(), rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)))

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}
	sfc := filepath.Join(*out, "surface.nc")
	pl := filepath.Join(*out, "pressure.nc")
	if err := netcdf.WriteInputs(sfc, pl, snap); err != nil {
		return fmt.Errorf("write netcdf inputs: %w", err)
	}

	fieldsPath := filepath.Join(*out, "fields.npz")
	if err := fieldstore.WriteFieldList(fieldsPath, fieldList(snap)); err != nil {
		return fmt.Errorf("write field list: %w", err)
	}

	if err := writeStatistics(*out, snap.State); err != nil {
		return err
	}

	for _, p := range []string{sfc, pl, fieldsPath,
		filepath.Join(*out, assets.DefaultFiles.Means), filepath.Join(*out, assets.DefaultFiles.Stds)} {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		log.Printf("%s: %s", p, humanize.Bytes(uint64(info.Size())))
	}
	log.Printf("grid %dx%d, %d channels, init %s", *nLat, *nLon, snap.State.Channels, initTime.Format(time.RFC3339))
	return nil
}

// synthesize builds a north-to-south snapshot in OrderingXR order.
func synthesize(nLat, nLon int, initTime time.Time, rng *rand.Rand) domain.Snapshot {
	lat := make([]float64, nLat)
	for i := range lat {
		lat[i] = 90 - 180*float64(i)/float64(nLat-1)
	}
	lon := make([]float64, nLon)
	for j := range lon {
		lon[j] = 360 * float64(j) / float64(nLon)
	}

	state := domain.NewState(domain.BackboneChannels, nLat, nLon)
	for c, name := range domain.OrderingXR {
		param, level, ok := domain.PressureChannel(name)
		if !ok {
			param, level = name, 0
		}
		ch := state.Channel(c)
		for i, la := range lat {
			phi := la * math.Pi / 180
			for j, lo := range lon {
				lambda := lo * math.Pi / 180
				ch[i*nLon+j] = float32(pattern(param, level, phi, lambda) + rng.NormFloat64()*noise(param))
			}
		}
	}
	return domain.Snapshot{
		InitTime: initTime,
		Lat:      lat,
		Lon:      lon,
		Channels: append([]string(nil), domain.OrderingXR...),
		State:    state,
	}
}

// pattern is a smooth field with roughly realistic magnitude for param at
// latitude phi and longitude lambda (radians). level is in hPa, 0 for surface.
func pattern(param string, level int, phi, lambda float64) float64 {
	cos, sin := math.Cos(phi), math.Sin(phi)
	wave := math.Sin(2*lambda) * cos
	p := float64(level) / 1000
	switch param {
	case "u10", "u100", "u":
		return 10*sin*sin*(1.5-p) + 3*wave
	case "v10", "v100", "v":
		return 4 * math.Cos(3*lambda) * cos
	case "t2m":
		return 250 + 40*cos*cos + 2*wave
	case "t":
		return 200 + 80*p*cos*cos + 10*p + 2*wave
	case "sp":
		return 98000 + 3000*cos + 500*wave
	case "msl":
		return 101325 + 1200*math.Cos(2*phi) + 400*wave
	case "tcwv":
		return 5 + 45*cos*cos*cos
	case "z":
		// Geopotential of a scale-height atmosphere, lower near the poles.
		return 9.80665*7400*math.Log(1/p) + 2000*cos*cos + 300*wave
	case "r":
		return 30 + 50*p*cos + 10*wave
	default:
		return 0
	}
}

func noise(param string) float64 {
	switch param {
	case "sp", "msl":
		return 50
	case "z":
		return 20
	default:
		return 0.5
	}
}

// fieldList converts the snapshot to host fields named per OrderingCML.
func fieldList(snap domain.Snapshot) domain.FieldList {
	fl := make(domain.FieldList, 0, snap.State.Channels)
	for c, name := range domain.OrderingCML {
		param, level, ok := domain.PressureChannel(name)
		if !ok {
			param, level = name, 0
		}
		fl = append(fl, domain.Field{
			Param:     param,
			Level:     level,
			ValidTime: snap.InitTime,
			Lat:       snap.Lat,
			Lon:       snap.Lon,
			Values:    snap.State.Channel(c),
		})
	}
	return fl
}

// writeStatistics stores per-channel mean and standard deviation as
// [1, C, 1, 1] float32 arrays.
func writeStatistics(dir string, s domain.State) error {
	summaries, err := domain.Summarize(s, domain.OrderingXR)
	if err != nil {
		return err
	}
	means := make([]float32, len(summaries))
	stds := make([]float32, len(summaries))
	for c, cs := range summaries {
		means[c] = float32(cs.Mean)
		stds[c] = float32(math.Max(cs.Std, 1e-3))
	}
	if err := numpy.ToNpyFile(tensors.FromFlatDataAndDimensions(means, 1, len(means), 1, 1),
		filepath.Join(dir, assets.DefaultFiles.Means)); err != nil {
		return fmt.Errorf("write means: %w", err)
	}
	if err := numpy.ToNpyFile(tensors.FromFlatDataAndDimensions(stds, 1, len(stds), 1, 1),
		filepath.Join(dir, assets.DefaultFiles.Stds)); err != nil {
		return fmt.Errorf("write stds: %w", err)
	}
	return nil
}
