// Package netcdf reads ERA5-style input snapshots and writes forecast
// datasets as classic NetCDF files.
package netcdf

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

var (
	latNames   = []string{"latitude", "lat"}
	lonNames   = []string{"longitude", "lon"}
	timeNames  = []string{"time", "valid_time"}
	levelNames = []string{"isobaricInhPa", "level", "pressure_level", "plev"}
)

// Reader loads input snapshots from a pair of single-level and
// pressure-level files.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a Reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger}
}

// ReadSnapshot stacks the first time record of both files in OrderingXR
// order, north to south.
func (r *Reader) ReadSnapshot(surfacePath, pressurePath string) (domain.Snapshot, error) {
	sfc, err := openNC(surfacePath)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer sfc.Close()

	pl, err := openNC(pressurePath)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer pl.Close()

	lat, lon, err := readGrid(sfc)
	if err != nil {
		return domain.Snapshot{}, err
	}
	plLat, plLon, err := readGrid(pl)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(plLat) != len(lat) || len(plLon) != len(lon) {
		return domain.Snapshot{}, fmt.Errorf("pressure grid %dx%d does not match surface grid %dx%d",
			len(plLat), len(plLon), len(lat), len(lon))
	}

	initTime, err := readInitTime(sfc)
	if err != nil {
		return domain.Snapshot{}, err
	}

	state := domain.NewState(domain.BackboneChannels, len(lat), len(lon))
	plane := state.PlaneSize()

	for c, name := range domain.SurfaceParamsXR {
		values, err := readPlane(sfc, name, plane)
		if err != nil {
			return domain.Snapshot{}, err
		}
		copy(state.Channel(c), values)
	}

	levels, err := readLevels(pl)
	if err != nil {
		return domain.Snapshot{}, err
	}
	for j, param := range domain.PressureParams {
		if !pl.has(param) {
			return domain.Snapshot{}, fmt.Errorf("%w: %s not in %s", domain.ErrMissingField, param, pressurePath)
		}
		cube, dims, err := firstRecord(pl, param)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if len(dims) != 3 || dims[0] != len(levels) || dims[1]*dims[2] != plane {
			return domain.Snapshot{}, fmt.Errorf("%s in %s has shape %v, want [%d %d %d]",
				param, pressurePath, dims, len(levels), len(lat), len(lon))
		}
		for k, level := range domain.ChannelLevels() {
			idx := slices.Index(levels, level)
			if idx < 0 {
				return domain.Snapshot{}, fmt.Errorf("%w: %s%d (level %d hPa not in %s)",
					domain.ErrMissingField, param, level, level, pressurePath)
			}
			c := domain.NumSurfaceChannels + j*len(domain.ChannelLevels()) + k
			copy(state.Channel(c), cube[idx*plane:(idx+1)*plane])
		}
	}

	domain.SortLatitudeDescending(lat, state)

	r.logger.Info("input snapshot loaded",
		"surface", surfacePath,
		"pressure", pressurePath,
		"init_time", initTime,
		"grid", fmt.Sprintf("%dx%d", len(lat), len(lon)),
	)

	return domain.Snapshot{
		InitTime: initTime,
		Lat:      lat,
		Lon:      lon,
		Channels: slices.Clone(domain.OrderingXR),
		State:    state,
	}, nil
}

func readGrid(n *ncFile) (lat, lon []float64, err error) {
	latName, ok := n.find(latNames...)
	if !ok {
		return nil, nil, fmt.Errorf("no latitude coordinate in %s", n.path)
	}
	lonName, ok := n.find(lonNames...)
	if !ok {
		return nil, nil, fmt.Errorf("no longitude coordinate in %s", n.path)
	}
	if lat, err = n.readAll(latName); err != nil {
		return nil, nil, err
	}
	if lon, err = n.readAll(lonName); err != nil {
		return nil, nil, err
	}
	return lat, lon, nil
}

func readInitTime(n *ncFile) (time.Time, error) {
	name, ok := n.find(timeNames...)
	if !ok {
		return time.Time{}, fmt.Errorf("no time coordinate in %s", n.path)
	}
	values, err := n.readAll(name)
	if err != nil {
		return time.Time{}, err
	}
	if len(values) == 0 {
		return time.Time{}, fmt.Errorf("empty time coordinate in %s", n.path)
	}
	units, ok := n.attrString(name, "units")
	if !ok {
		return time.Time{}, fmt.Errorf("time coordinate in %s has no units", n.path)
	}
	return domain.ParseCFTime(values[0], units)
}

func readLevels(n *ncFile) ([]int, error) {
	name, ok := n.find(levelNames...)
	if !ok {
		return nil, fmt.Errorf("no pressure level coordinate in %s", n.path)
	}
	values, err := n.readAll(name)
	if err != nil {
		return nil, err
	}
	levels := make([]int, len(values))
	for i, v := range values {
		levels[i] = int(math.Round(v))
	}
	return levels, nil
}

// firstRecord reads the first time step of v, or all of v when it has no
// time dimension.
func firstRecord(n *ncFile, v string) ([]float32, []int, error) {
	dims := n.nc.Header.Dimensions(v)
	if len(dims) > 0 && slices.Contains(timeNames, dims[0]) {
		return n.readRecord(v, 0)
	}
	values, err := n.readAll(v)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float32, len(values))
	for i, x := range values {
		out[i] = float32(x)
	}
	return out, n.lengths(v), nil
}

func readPlane(n *ncFile, v string, plane int) ([]float32, error) {
	if !n.has(v) {
		return nil, fmt.Errorf("%w: %s not in %s", domain.ErrMissingField, v, n.path)
	}
	values, _, err := firstRecord(n, v)
	if err != nil {
		return nil, err
	}
	if len(values) != plane {
		return nil, fmt.Errorf("%s in %s has %d values per time step, want %d", v, n.path, len(values), plane)
	}
	return values, nil
}

// ReadDataset reads a file produced by Writer back into a Dataset.
func ReadDataset(path string) (domain.Dataset, error) {
	n, err := openNC(path)
	if err != nil {
		return domain.Dataset{}, err
	}
	defer n.Close()

	var ds domain.Dataset
	if ds.Lat, err = n.readAll(domain.DimLat); err != nil {
		return domain.Dataset{}, err
	}
	if ds.Lon, err = n.readAll(domain.DimLon); err != nil {
		return domain.Dataset{}, err
	}
	levels, err := n.readAll(domain.DimLevel)
	if err != nil {
		return domain.Dataset{}, err
	}
	for _, l := range levels {
		ds.Levels = append(ds.Levels, int(math.Round(l)))
	}

	hours, err := n.readAll(domain.DimTime)
	if err != nil {
		return domain.Dataset{}, err
	}
	units, _ := n.attrString(domain.DimTime, "units")
	for _, h := range hours {
		t, err := domain.ParseCFTime(h, units)
		if err != nil {
			return domain.Dataset{}, err
		}
		ds.Times = append(ds.Times, t)
	}
	if s, ok := n.attrString("", "init_time"); ok {
		if ds.InitTime, err = time.Parse(time.RFC3339, s); err != nil {
			return domain.Dataset{}, fmt.Errorf("parse init_time attribute: %w", err)
		}
	}
	if v, ok := n.attrFloat("", "lead_time_hours"); ok {
		ds.LeadTimeHours = int(v)
	}

	coords := []string{domain.DimTime, domain.DimLevel, domain.DimLat, domain.DimLon}
	for _, name := range n.nc.Header.Variables() {
		if slices.Contains(coords, name) {
			continue
		}
		values, err := n.readAll(name)
		if err != nil {
			return domain.Dataset{}, err
		}
		out := make([]float32, len(values))
		for i, x := range values {
			out[i] = float32(x)
		}
		ds.Variables = append(ds.Variables, domain.Variable{
			Name:   name,
			Dims:   n.nc.Header.Dimensions(name),
			Shape:  n.lengths(name),
			Values: out,
		})
	}
	if len(ds.Variables) == 0 {
		return domain.Dataset{}, errors.New("dataset has no data variables")
	}
	return ds, nil
}
