package domain

import (
	"strconv"
	"strings"
)

// Grid and stepping constants of the 0.25° global FourCastNetv2 configuration.
const (
	HourSteps = 6
	NLat      = 721
	NLon      = 1440
	GridStep  = 0.25

	// ExpVer tags every product this model writes.
	ExpVer = "sfno"
)

// Area is the north/west/south/east bounding box of the input grid.
var Area = [4]float64{90, 0, -90, 360 - GridStep}

// SurfaceParams are the surface parameters as named by the host field list.
var SurfaceParams = []string{"10u", "10v", "2t", "sp", "msl", "tcwv", "100u", "100v"}

// SurfaceParamsXR are the surface variables as named in NetCDF datasets, in
// channel order.
var SurfaceParamsXR = []string{"u10", "v10", "u100", "v100", "t2m", "sp", "msl", "tcwv"}

// PressureParams are the upper-air parameters, in channel order.
var PressureParams = []string{"u", "v", "z", "t", "r"}

// PressureLevels are the isobaric levels in hPa as requested from the host.
var PressureLevels = []int{1000, 925, 850, 700, 600, 500, 400, 300, 250, 200, 150, 100, 50}

// OrderingCML is the network channel layout using host field names.
var OrderingCML = buildOrdering([]string{"10u", "10v", "100u", "100v", "2t", "sp", "msl", "tcwv"})

// OrderingXR is the network channel layout using dataset variable names.
var OrderingXR = buildOrdering(SurfaceParamsXR)

// BackboneChannels is the number of channels the network consumes and emits.
var BackboneChannels = len(OrderingCML)

// NumSurfaceChannels is the count of leading single-level channels.
var NumSurfaceChannels = len(SurfaceParamsXR)

// ChannelLevels returns the pressure levels in channel order (50 -> 1000 hPa).
func ChannelLevels() []int {
	levels := make([]int, len(PressureLevels))
	for i, l := range PressureLevels {
		levels[len(PressureLevels)-1-i] = l
	}
	return levels
}

func buildOrdering(surface []string) []string {
	out := make([]string, 0, len(surface)+len(PressureParams)*len(PressureLevels))
	out = append(out, surface...)
	for _, p := range PressureParams {
		for _, l := range ChannelLevels() {
			out = append(out, p+strconv.Itoa(l))
		}
	}
	return out
}

// PressureChannel splits a channel name such as "u500" into its parameter and
// level. Surface names and unknown parameters report ok=false.
func PressureChannel(name string) (param string, level int, ok bool) {
	for _, p := range PressureParams {
		rest, found := strings.CutPrefix(name, p)
		if !found || rest == "" {
			continue
		}
		lvl, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		return p, lvl, true
	}
	return "", 0, false
}

// ChannelIndex returns the position of name in ordering, or -1.
func ChannelIndex(ordering []string, name string) int {
	for i, n := range ordering {
		if n == name {
			return i
		}
	}
	return -1
}
