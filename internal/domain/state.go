package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrChannelMismatch is returned when a state and its statistics or
	// channel names disagree on the number of channels.
	ErrChannelMismatch = errors.New("channel count mismatch")

	// ErrMissingField is returned when an input lacks a required channel.
	ErrMissingField = errors.New("missing field")

	// ErrNaNField is returned when an output field contains NaN values.
	ErrNaNField = errors.New("field contains NaN values")
)

// State is a single-sample network tensor laid out as [1, C, H, W] in
// row-major order.
type State struct {
	Channels int
	Lat      int
	Lon      int
	Data     []float32
}

// NewState allocates a zeroed state.
func NewState(channels, lat, lon int) State {
	return State{
		Channels: channels,
		Lat:      lat,
		Lon:      lon,
		Data:     make([]float32, channels*lat*lon),
	}
}

// Validate checks dimensions against the backing slice.
func (s State) Validate() error {
	if s.Channels <= 0 || s.Lat <= 0 || s.Lon <= 0 {
		return fmt.Errorf("invalid state dimensions [1, %d, %d, %d]", s.Channels, s.Lat, s.Lon)
	}
	if want := s.Channels * s.Lat * s.Lon; len(s.Data) != want {
		return fmt.Errorf("state data has %d values, want %d for [1, %d, %d, %d]",
			len(s.Data), want, s.Channels, s.Lat, s.Lon)
	}
	return nil
}

// PlaneSize is the number of grid points in one channel.
func (s State) PlaneSize() int { return s.Lat * s.Lon }

// Channel returns the slice backing channel c. Writes go through to the state.
func (s State) Channel(c int) []float32 {
	n := s.PlaneSize()
	return s.Data[c*n : (c+1)*n]
}

// Dims returns the tensor dimensions including the leading batch axis.
func (s State) Dims() []int { return []int{1, s.Channels, s.Lat, s.Lon} }

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Data = slices.Clone(s.Data)
	return s
}

// HasNaN reports whether any value in values is NaN.
func HasNaN(values []float32) bool {
	for _, v := range values {
		if v != v {
			return true
		}
	}
	return false
}

// ChannelSummary describes the distribution of one channel.
type ChannelSummary struct {
	Name string
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Summarize computes mean, population standard deviation, minimum and maximum
// per channel. names labels the channels and must match the channel count.
func Summarize(s State, names []string) ([]ChannelSummary, error) {
	if len(names) != s.Channels {
		return nil, fmt.Errorf("%w: %d names for %d channels", ErrChannelMismatch, len(names), s.Channels)
	}
	out := make([]ChannelSummary, s.Channels)
	for c := range s.Channels {
		values := s.Channel(c)
		sum := ChannelSummary{Name: names[c], Min: math.Inf(1), Max: math.Inf(-1)}
		var total float64
		for _, v := range values {
			f := float64(v)
			total += f
			sum.Min = math.Min(sum.Min, f)
			sum.Max = math.Max(sum.Max, f)
		}
		sum.Mean = total / float64(len(values))
		var sq float64
		for _, v := range values {
			d := float64(v) - sum.Mean
			sq += d * d
		}
		sum.Std = math.Sqrt(sq / float64(len(values)))
		out[c] = sum
	}
	return out, nil
}

// FlipLatitude reverses the latitude axis of every channel in place.
func FlipLatitude(s State) {
	for c := range s.Channels {
		ch := s.Channel(c)
		for top, bottom := 0, s.Lat-1; top < bottom; top, bottom = top+1, bottom-1 {
			a := ch[top*s.Lon : (top+1)*s.Lon]
			b := ch[bottom*s.Lon : (bottom+1)*s.Lon]
			for i := range a {
				a[i], b[i] = b[i], a[i]
			}
		}
	}
}

// SortLatitudeDescending orders the grid north to south. When lat is
// ascending both lat and every channel of state are reversed in place.
func SortLatitudeDescending(lat []float64, s State) {
	if len(lat) < 2 || lat[0] >= lat[len(lat)-1] {
		return
	}
	slices.Reverse(lat)
	FlipLatitude(s)
}
