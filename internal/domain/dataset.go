package domain

import (
	"fmt"
	"time"
)

// Dimension names used by assembled datasets.
const (
	DimTime  = "time"
	DimLevel = "isobaricInhPa"
	DimLat   = "lat"
	DimLon   = "lon"
)

// Variable is one data variable of a Dataset, stored row-major over Dims.
type Variable struct {
	Name   string
	Dims   []string
	Shape  []int
	Values []float32
}

// Dataset is the labelled multi-step forecast written on the dataset path.
type Dataset struct {
	InitTime      time.Time
	LeadTimeHours int
	Times         []time.Time
	Levels        []int
	Lat           []float64
	Lon           []float64
	Variables     []Variable
}

// StepTimes returns init + 6h*k for k = 1..steps.
func StepTimes(init time.Time, steps int) []time.Time {
	out := make([]time.Time, steps)
	for k := range steps {
		out[k] = init.Add(time.Duration((k+1)*HourSteps) * time.Hour)
	}
	return out
}

// DatasetFileName names the output file after its start and end hours and
// the lead time, e.g. fcnv2_2023-01-01T00_to_2023-01-11T00_ldt_240.nc.
func DatasetFileName(start time.Time, leadHours int) string {
	const hourLayout = "2006-01-02T15"
	end := start.Add(time.Duration(leadHours) * time.Hour)
	return fmt.Sprintf("fcnv2_%s_to_%s_ldt_%d.nc",
		start.UTC().Format(hourLayout), end.UTC().Format(hourLayout), leadHours)
}

// AssembleDataset stacks denormalised step outputs in OrderingXR layout into
// surface variables (time, lat, lon) and pressure variables
// (time, isobaricInhPa, lat, lon).
func AssembleDataset(snap Snapshot, outputs []State, leadHours int) (Dataset, error) {
	if len(outputs) == 0 {
		return Dataset{}, fmt.Errorf("assemble dataset: no forecast steps")
	}
	nLat, nLon := len(snap.Lat), len(snap.Lon)
	plane := nLat * nLon
	for i, out := range outputs {
		if out.Channels != BackboneChannels || out.Lat != nLat || out.Lon != nLon {
			return Dataset{}, fmt.Errorf("assemble dataset: step %d has shape %v, want [1 %d %d %d]",
				i, out.Dims(), BackboneChannels, nLat, nLon)
		}
	}
	steps := len(outputs)
	levels := ChannelLevels()

	ds := Dataset{
		InitTime:      snap.InitTime,
		LeadTimeHours: leadHours,
		Times:         StepTimes(snap.InitTime, steps),
		Levels:        levels,
		Lat:           snap.Lat,
		Lon:           snap.Lon,
	}

	for i, name := range SurfaceParamsXR {
		values := make([]float32, 0, steps*plane)
		for _, out := range outputs {
			values = append(values, out.Channel(i)...)
		}
		ds.Variables = append(ds.Variables, Variable{
			Name:   name,
			Dims:   []string{DimTime, DimLat, DimLon},
			Shape:  []int{steps, nLat, nLon},
			Values: values,
		})
	}

	for j, param := range PressureParams {
		first := NumSurfaceChannels + j*len(levels)
		values := make([]float32, 0, steps*len(levels)*plane)
		for _, out := range outputs {
			for k := range levels {
				values = append(values, out.Channel(first+k)...)
			}
		}
		ds.Variables = append(ds.Variables, Variable{
			Name:   param,
			Dims:   []string{DimTime, DimLevel, DimLat, DimLon},
			Shape:  []int{steps, len(levels), nLat, nLon},
			Values: values,
		})
	}
	return ds, nil
}
