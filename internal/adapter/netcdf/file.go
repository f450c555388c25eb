package netcdf

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/ctessum/cdf"
)

// ncFile is an open classic NetCDF file.
type ncFile struct {
	path    string
	f       *os.File
	nc      *cdf.File
	numRecs int
}

func openNC(path string) (*ncFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	nc, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open netcdf %s (classic or 64-bit offset format expected, NetCDF4/HDF5 is not supported): %w", path, err)
	}
	return &ncFile{path: path, f: f, nc: nc, numRecs: int(max(nc.Header.NumRecs(info.Size()), 0))}, nil
}

func (n *ncFile) Close() error { return n.f.Close() }

// lengths is the shape of v. The record dimension, stored as 0 in the
// header, is replaced by the number of complete records in the file.
func (n *ncFile) lengths(v string) []int {
	dims := slices.Clone(n.nc.Header.Lengths(v))
	if len(dims) > 0 && n.nc.Header.IsRecordVariable(v) {
		dims[0] = n.numRecs
	}
	return dims
}

func (n *ncFile) has(v string) bool {
	return slices.Contains(n.nc.Header.Variables(), v)
}

// find returns the first of names present in the file.
func (n *ncFile) find(names ...string) (string, bool) {
	for _, name := range names {
		if n.has(name) {
			return name, true
		}
	}
	return "", false
}

func (n *ncFile) attrFloat(v, a string) (float64, bool) {
	vals, err := toFloat64s(n.nc.Header.GetAttribute(v, a))
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func (n *ncFile) attrString(v, a string) (string, bool) {
	s, ok := n.nc.Header.GetAttribute(v, a).(string)
	return s, ok
}

// readAll reads a whole variable, every record of a record variable, and
// unpacks it.
func (n *ncFile) readAll(v string) ([]float64, error) {
	if n.nc.Header.IsRecordVariable(v) {
		var out []float64
		for rec := range n.numRecs {
			values, _, err := n.readRecord(v, rec)
			if err != nil {
				return nil, err
			}
			for _, x := range values {
				out = append(out, float64(x))
			}
		}
		return out, nil
	}
	r := n.nc.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s from %s: %w", v, n.path, err)
	}
	raw, err := toFloat64s(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", v, n.path, err)
	}
	return n.unpack(v, raw), nil
}

// readRecord reads index rec along the leading dimension of v and unpacks it.
func (n *ncFile) readRecord(v string, rec int) ([]float32, []int, error) {
	dims := n.lengths(v)
	if len(dims) == 0 {
		return nil, nil, fmt.Errorf("variable %s not in %s", v, n.path)
	}
	if rec >= dims[0] {
		return nil, nil, fmt.Errorf("%s in %s has %d records, want record %d", v, n.path, dims[0], rec)
	}
	inner := dims[1:]
	nread := 1
	for _, d := range inner {
		nread *= d
	}
	start, end := make([]int, len(dims)), make([]int, len(dims))
	start[0], end[0] = rec, rec+1
	r := n.nc.Reader(v, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("read %s from %s: %w", v, n.path, err)
	}
	raw, err := toFloat64s(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s from %s: %w", v, n.path, err)
	}
	values := n.unpack(v, raw)
	out := make([]float32, len(values))
	for i, x := range values {
		out[i] = float32(x)
	}
	return out, inner, nil
}

// unpack applies the CF scale_factor, add_offset and _FillValue/missing_value
// attributes of v.
func (n *ncFile) unpack(v string, raw []float64) []float64 {
	scale, hasScale := n.attrFloat(v, "scale_factor")
	offset, hasOffset := n.attrFloat(v, "add_offset")
	fill, hasFill := n.attrFloat(v, "_FillValue")
	missing, hasMissing := n.attrFloat(v, "missing_value")
	if !hasScale {
		scale = 1
	}
	if !hasOffset {
		offset = 0
	}
	for i, x := range raw {
		if (hasFill && x == fill) || (hasMissing && x == missing) {
			raw[i] = math.NaN()
			continue
		}
		raw[i] = x*scale + offset
	}
	return raw
}

func toFloat64s(buf any) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return slices.Clone(b), nil
	case []float32:
		return convert(b), nil
	case []int32:
		return convert(b), nil
	case []int16:
		return convert(b), nil
	case []int8:
		return convert(b), nil
	case []uint8:
		return convert(b), nil
	case nil:
		return nil, fmt.Errorf("no data")
	default:
		return nil, fmt.Errorf("unsupported netcdf type %T", buf)
	}
}

func convert[T float32 | int32 | int16 | int8 | uint8](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// finishRecords completes the trailing record of a freshly written file and
// stores the record count in the header. With more than one record variable
// each record is padded to a 4-byte boundary, and the padding after the last
// variable of the last record is never written.
func finishRecords(f *os.File, h *cdf.Header) error {
	recordVars := 0
	for _, v := range h.Variables() {
		if h.IsRecordVariable(v) {
			recordVars++
		}
	}
	if recordVars > 1 {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if rem := info.Size() % 4; rem != 0 {
			if err := f.Truncate(info.Size() + 4 - rem); err != nil {
				return fmt.Errorf("pad last record of %s: %w", f.Name(), err)
			}
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		return fmt.Errorf("update record count of %s: %w", f.Name(), err)
	}
	return nil
}
