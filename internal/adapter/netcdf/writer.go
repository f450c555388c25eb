package netcdf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
	"github.com/dustin/go-humanize"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

// Writer stores assembled forecast datasets.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// WriteDataset writes ds to dir under its DatasetFileName and returns the
// path. Data variables are packed to int16.
func (w *Writer) WriteDataset(dir string, ds domain.Dataset) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, domain.DatasetFileName(ds.InitTime, ds.LeadTimeHours))
	tmp := path + ".tmp"

	start := time.Now()
	if err := writeFile(tmp, ds); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}

	attrs := []any{"path", path, "variables", len(ds.Variables), "steps", len(ds.Times),
		"elapsed", time.Since(start).Round(time.Millisecond)}
	if info, err := os.Stat(path); err == nil {
		attrs = append(attrs, "size", humanize.Bytes(uint64(info.Size())))
	}
	w.logger.Info("dataset written", attrs...)
	return path, nil
}

func writeFile(path string, ds domain.Dataset) error {
	if len(ds.Levels) == 0 || len(ds.Lat) == 0 || len(ds.Lon) == 0 {
		return fmt.Errorf("dataset grid %dx%dx%d has an empty axis", len(ds.Levels), len(ds.Lat), len(ds.Lon))
	}
	h := cdf.NewHeader(
		[]string{domain.DimTime, domain.DimLevel, domain.DimLat, domain.DimLon},
		[]int{0, len(ds.Levels), len(ds.Lat), len(ds.Lon)},
	)
	h.AddAttribute("", "Conventions", "CF-1.6")
	h.AddAttribute("", "model", domain.ModelName)
	h.AddAttribute("", "expver", domain.ExpVer)
	h.AddAttribute("", "init_time", ds.InitTime.UTC().Format(time.RFC3339))
	h.AddAttribute("", "lead_time_hours", []int32{int32(ds.LeadTimeHours)})

	h.AddVariable(domain.DimTime, []string{domain.DimTime}, []float64{0})
	h.AddAttribute(domain.DimTime, "units", domain.TimeUnits)
	h.AddAttribute(domain.DimTime, "calendar", "proleptic_gregorian")
	h.AddAttribute(domain.DimTime, "standard_name", "time")

	h.AddVariable(domain.DimLevel, []string{domain.DimLevel}, []float64{0})
	h.AddAttribute(domain.DimLevel, "units", "hPa")
	h.AddAttribute(domain.DimLevel, "positive", "down")
	h.AddAttribute(domain.DimLevel, "standard_name", "air_pressure")

	h.AddVariable(domain.DimLat, []string{domain.DimLat}, []float64{0})
	h.AddAttribute(domain.DimLat, "units", "degrees_north")
	h.AddAttribute(domain.DimLat, "standard_name", "latitude")

	h.AddVariable(domain.DimLon, []string{domain.DimLon}, []float64{0})
	h.AddAttribute(domain.DimLon, "units", "degrees_east")
	h.AddAttribute(domain.DimLon, "standard_name", "longitude")

	packings := make([]Packing, len(ds.Variables))
	for i, v := range ds.Variables {
		if len(v.Dims) == 0 || v.Dims[0] != domain.DimTime {
			return fmt.Errorf("variable %s must lead with the %s dimension, has %v", v.Name, domain.DimTime, v.Dims)
		}
		packings[i] = PackingFor(v.Values)
		h.AddVariable(v.Name, v.Dims, []int16{0})
		h.AddAttribute(v.Name, "_FillValue", []int16{FillValue})
		h.AddAttribute(v.Name, "add_offset", []float64{packings[i].Offset})
		h.AddAttribute(v.Name, "scale_factor", []float64{packings[i].Scale})
	}

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

	levels := make([]float64, len(ds.Levels))
	for i, l := range ds.Levels {
		levels[i] = float64(l)
	}
	for name, values := range map[string][]float64{
		domain.DimLevel: levels,
		domain.DimLat:   ds.Lat,
		domain.DimLon:   ds.Lon,
	} {
		if err := writeValues(nc, name, []int{0}, []int{len(values)}, values); err != nil {
			return err
		}
	}

	for k, t := range ds.Times {
		if err := writeValues(nc, domain.DimTime, []int{k}, []int{k + 1}, []float64{domain.HoursSinceEpoch(t)}); err != nil {
			return err
		}
	}

	for i, v := range ds.Variables {
		steps := v.Shape[0]
		if steps != len(ds.Times) {
			return fmt.Errorf("variable %s has %d steps, dataset has %d", v.Name, steps, len(ds.Times))
		}
		perStep := len(v.Values) / steps
		packed := packings[i].Pack(v.Values)
		for k := range steps {
			start, end := make([]int, len(v.Dims)), make([]int, len(v.Dims))
			start[0], end[0] = k, k+1
			if err := writeValues(nc, v.Name, start, end, packed[k*perStep:(k+1)*perStep]); err != nil {
				return err
			}
		}
	}

	return finishRecords(f, h)
}

func writeValues(nc *cdf.File, name string, start, end []int, data any) error {
	w := nc.Writer(name, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
