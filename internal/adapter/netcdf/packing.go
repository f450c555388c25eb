package netcdf

import (
	"math"
)

// FillValue marks missing values in packed variables.
const FillValue int16 = -32767

// packResolution is the number of packed steps per standard deviation.
const packResolution = 1000

// Packing holds the CF linear packing parameters of one variable:
// value = packed * Scale + Offset.
type Packing struct {
	Offset float64
	Scale  float64
}

// PackingFor derives the packing of values: the offset is their mean and the
// scale a thousandth of their standard deviation. NaNs are ignored; a
// constant (or all-NaN) variable gets scale 1.
func PackingFor(values []float32) Packing {
	var n int
	var sum float64
	for _, v := range values {
		if !math.IsNaN(float64(v)) {
			sum += float64(v)
			n++
		}
	}
	if n == 0 {
		return Packing{Offset: 0, Scale: 1}
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range values {
		if !math.IsNaN(float64(v)) {
			d := float64(v) - mean
			sq += d * d
		}
	}
	std := math.Sqrt(sq / float64(n))
	scale := std / packResolution
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	return Packing{Offset: mean, Scale: scale}
}

// Pack quantises values to int16. NaN becomes FillValue; values beyond the
// representable range clamp to it without colliding with the fill value.
func (p Packing) Pack(values []float32) []int16 {
	out := make([]int16, len(values))
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			out[i] = FillValue
			continue
		}
		q := math.Round((float64(v) - p.Offset) / p.Scale)
		switch {
		case q > math.MaxInt16:
			q = math.MaxInt16
		case q <= float64(FillValue):
			q = float64(FillValue) + 1
		}
		out[i] = int16(q)
	}
	return out
}

// Unpack reverses Pack, mapping FillValue to NaN.
func (p Packing) Unpack(packed []int16) []float32 {
	out := make([]float32, len(packed))
	for i, q := range packed {
		if q == FillValue {
			out[i] = float32(math.NaN())
			continue
		}
		out[i] = float32(float64(q)*p.Scale + p.Offset)
	}
	return out
}
