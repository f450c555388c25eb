package domain

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Field is one two-dimensional meteorological field on a regular lat/lon grid.
type Field struct {
	Param     string
	Level     int // hPa; 0 for single-level fields
	ValidTime time.Time
	Lat       []float64
	Lon       []float64
	Values    []float32
}

// Name returns the "{param}{levelist}" label used to place the field in the
// channel ordering, e.g. "z500" or "2t".
func (f Field) Name() string {
	if f.Level == 0 {
		return f.Param
	}
	return f.Param + strconv.Itoa(f.Level)
}

// FieldList is an unordered collection of fields handed over by the host.
type FieldList []Field

// OrderBy selects the fields named in ordering and returns them in that
// order. Extra fields are dropped; the first of duplicate names wins.
func (fl FieldList) OrderBy(ordering []string) (FieldList, error) {
	byName := make(map[string]int, len(fl))
	for i, f := range fl {
		if _, dup := byName[f.Name()]; !dup {
			byName[f.Name()] = i
		}
	}
	out := make(FieldList, 0, len(ordering))
	for _, name := range ordering {
		i, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		out = append(out, fl[i])
	}
	return out, nil
}

// Stack concatenates the fields into a [1, len(fl), H, W] state. Every field
// must share the grid of the first one.
func (fl FieldList) Stack() (State, error) {
	if len(fl) == 0 {
		return State{}, fmt.Errorf("stack: %w: empty field list", ErrMissingField)
	}
	lat, lon := len(fl[0].Lat), len(fl[0].Lon)
	s := NewState(len(fl), lat, lon)
	for c, f := range fl {
		if len(f.Lat) != lat || len(f.Lon) != lon || len(f.Values) != lat*lon {
			return State{}, fmt.Errorf("stack: field %s has grid %dx%d (%d values), want %dx%d",
				f.Name(), len(f.Lat), len(f.Lon), len(f.Values), lat, lon)
		}
		if !slices.Equal(f.Lat, fl[0].Lat) || !slices.Equal(f.Lon, fl[0].Lon) {
			return State{}, fmt.Errorf("stack: field %s grid coordinates differ from %s", f.Name(), fl[0].Name())
		}
		copy(s.Channel(c), f.Values)
	}
	return s, nil
}

// Snapshot is the marshalled network input: the stacked state in channel
// order together with the grid and timing it came from.
type Snapshot struct {
	InitTime time.Time
	Lat      []float64
	Lon      []float64
	Channels []string
	State    State

	// Templates carries the source field of every channel when the input
	// came from a host field list; output fields inherit their metadata.
	Templates FieldList
}

// Validate checks that the snapshot is internally consistent.
func (s Snapshot) Validate() error {
	if err := s.State.Validate(); err != nil {
		return err
	}
	if len(s.Channels) != s.State.Channels {
		return fmt.Errorf("%w: %d channel names for %d channels", ErrChannelMismatch, len(s.Channels), s.State.Channels)
	}
	if len(s.Lat) != s.State.Lat || len(s.Lon) != s.State.Lon {
		return fmt.Errorf("snapshot grid %dx%d does not match state %dx%d", len(s.Lat), len(s.Lon), s.State.Lat, s.State.Lon)
	}
	if s.Templates != nil && len(s.Templates) != s.State.Channels {
		return fmt.Errorf("%w: %d templates for %d channels", ErrChannelMismatch, len(s.Templates), s.State.Channels)
	}
	return nil
}

// SnapshotFromFields orders a host field list by OrderingCML and stacks it.
func SnapshotFromFields(fl FieldList) (Snapshot, error) {
	ordered, err := fl.OrderBy(OrderingCML)
	if err != nil {
		return Snapshot{}, err
	}
	state, err := ordered.Stack()
	if err != nil {
		return Snapshot{}, err
	}
	first := ordered[0]
	lat := append([]float64(nil), first.Lat...)
	if len(lat) > 1 && lat[0] < lat[len(lat)-1] {
		SortLatitudeDescending(lat, state)
		for i := range ordered {
			ordered[i].Lat = lat
		}
	}
	return Snapshot{
		InitTime:  first.ValidTime,
		Lat:       lat,
		Lon:       append([]float64(nil), first.Lon...),
		Channels:  append([]string(nil), OrderingCML...),
		State:     state,
		Templates: ordered,
	}, nil
}

// StepOutput is one denormalised forecast step handed to the host.
type StepOutput struct {
	Index     int // zero-based iteration
	StepHours int
	ValidTime time.Time
	Fields    FieldList
}

// StepFields splits a denormalised state into fields that inherit param,
// level and grid from templates, stamped with the step's valid time.
func StepFields(s State, templates FieldList, validTime time.Time) (FieldList, error) {
	if len(templates) != s.Channels {
		return nil, fmt.Errorf("%w: %d templates for %d channels", ErrChannelMismatch, len(templates), s.Channels)
	}
	out := make(FieldList, s.Channels)
	for c, tmpl := range templates {
		out[c] = Field{
			Param:     tmpl.Param,
			Level:     tmpl.Level,
			ValidTime: validTime,
			Lat:       tmpl.Lat,
			Lon:       tmpl.Lon,
			Values:    append([]float32(nil), s.Channel(c)...),
		}
	}
	return out, nil
}
