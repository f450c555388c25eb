// Package fieldstore exchanges field lists with the host as npz archives.
package fieldstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/assets"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

const (
	latEntry = "latitude"
	lonEntry = "longitude"
)

// ReadFieldList loads an npz archive of [lat, lon] arrays named
// "{param}{level}". Coordinates come from the optional latitude and
// longitude entries, or default to the global 0.25° grid.
func ReadFieldList(path string, validTime time.Time) (domain.FieldList, error) {
	entries, err := numpy.FromNpzFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field list: %w", err)
	}
	defer func() {
		for _, t := range entries {
			_ = t.FinalizeAll()
		}
	}()

	lat, lon, err := coordinates(entries)
	if err != nil {
		return nil, fmt.Errorf("read field list %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		if name != latEntry && name != lonEntry {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	fl := make(domain.FieldList, 0, len(names))
	for _, name := range names {
		t := entries[name]
		dims := t.Shape().Dimensions
		if len(dims) != 2 || dims[0] != len(lat) || dims[1] != len(lon) {
			return nil, fmt.Errorf("read field list %s: %s has shape %v, want [%d %d]", path, name, dims, len(lat), len(lon))
		}
		values, err := assets.Float32Values(t)
		if err != nil {
			return nil, fmt.Errorf("read field list %s: %s: %w", path, name, err)
		}
		f := domain.Field{ValidTime: validTime, Lat: lat, Lon: lon, Values: values}
		if param, level, ok := domain.PressureChannel(name); ok {
			f.Param, f.Level = param, level
		} else {
			f.Param = name
		}
		fl = append(fl, f)
	}
	return fl, nil
}

func coordinates(entries map[string]*tensors.Tensor) (lat, lon []float64, err error) {
	latT, hasLat := entries[latEntry]
	lonT, hasLon := entries[lonEntry]
	if hasLat != hasLon {
		return nil, nil, fmt.Errorf("latitude and longitude must be given together")
	}
	if !hasLat {
		lat, lon = GlobalGrid()
		return lat, lon, nil
	}
	if lat, err = float64Values(latT); err != nil {
		return nil, nil, err
	}
	if lon, err = float64Values(lonT); err != nil {
		return nil, nil, err
	}
	return lat, lon, nil
}

func float64Values(t *tensors.Tensor) ([]float64, error) {
	values, err := assets.Float32Values(t)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}

// GlobalGrid returns the 0.25° latitudes (north first) and longitudes.
func GlobalGrid() (lat, lon []float64) {
	lat = make([]float64, domain.NLat)
	for i := range lat {
		lat[i] = domain.Area[0] - float64(i)*domain.GridStep
	}
	lon = make([]float64, domain.NLon)
	for i := range lon {
		lon[i] = domain.Area[1] + float64(i)*domain.GridStep
	}
	return lat, lon
}

// WriteFieldList stores fl as an npz archive ReadFieldList can load.
func WriteFieldList(path string, fl domain.FieldList) error {
	if len(fl) == 0 {
		return fmt.Errorf("write field list: %w: empty field list", domain.ErrMissingField)
	}
	entries := map[string]*tensors.Tensor{
		latEntry: tensors.FromFlatDataAndDimensions(fl[0].Lat, len(fl[0].Lat)),
		lonEntry: tensors.FromFlatDataAndDimensions(fl[0].Lon, len(fl[0].Lon)),
	}
	for _, f := range fl {
		entries[f.Name()] = tensors.FromFlatDataAndDimensions(f.Values, len(f.Lat), len(f.Lon))
	}
	return writeNpz(path, entries)
}

func writeNpz(path string, entries map[string]*tensors.Tensor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := numpy.ToNpzFile(entries, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Writer hands forecast steps back to the host, one npz archive and one JSON
// metadata sidecar per step.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a Writer storing steps under dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// FieldMeta describes one stored field.
type FieldMeta struct {
	Name      string    `json:"name"`
	Param     string    `json:"param"`
	Level     int       `json:"level,omitempty"`
	ValidTime time.Time `json:"valid_time"`
}

// StepMeta is the JSON sidecar of a stored step.
type StepMeta struct {
	Step      int         `json:"step"`
	ValidTime time.Time   `json:"valid_time"`
	ExpVer    string      `json:"expver"`
	Fields    []FieldMeta `json:"fields"`
}

// WriteStep stores every field of out. A field holding NaN values fails the
// step with domain.ErrNaNField and nothing is written.
func (w *Writer) WriteStep(ctx context.Context, out domain.StepOutput) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var bad []string
	for _, f := range out.Fields {
		if domain.HasNaN(f.Values) {
			bad = append(bad, f.Name())
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("step %dh: %w: %s", out.StepHours, domain.ErrNaNField, strings.Join(bad, ", "))
	}

	base := filepath.Join(w.dir, fmt.Sprintf("step_%03d", out.StepHours))
	npzPath, metaPath := base+".npz", base+".json"

	if err := WriteFieldList(npzPath, out.Fields); err != nil {
		return nil, err
	}

	meta := StepMeta{Step: out.StepHours, ValidTime: out.ValidTime, ExpVer: domain.ExpVer}
	for _, f := range out.Fields {
		meta.Fields = append(meta.Fields, FieldMeta{Name: f.Name(), Param: f.Param, Level: f.Level, ValidTime: f.ValidTime})
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode step metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", metaPath, err)
	}

	w.logger.Debug("step written", "step", out.StepHours, "fields", len(out.Fields), "path", npzPath)
	return []string{npzPath, metaPath}, nil
}
