// Package domain models the FourCastNetv2 channel layout and forecast requests.
//
// # Channel layout
//
// The network consumes and emits a single [1, 73, 721, 1440] tensor on the
// 0.25° global grid (latitude 90 to -90, north first; longitude 0 to 359.75).
// Channels are ordered:
//
//	0-7    single level: 10u 10v 100u 100v 2t sp msl tcwv
//	8-20   u   at 50 100 150 200 250 300 400 500 600 700 850 925 1000 hPa
//	21-33  v   same levels
//	34-46  z   same levels
//	47-59  t   same levels
//	60-72  r   same levels
//
// Host field lists label fields "{param}{levelist}" (e.g. "z500", "2t") and
// are reordered with [OrderingCML]. NetCDF datasets use the ERA5 variable
// names u10, v10, u100, v100, t2m for the single-level fields and are
// reordered with [OrderingXR]. Latitude is always flipped to descending
// before stacking.
//
// # Normalisation
//
// Inputs are normalised per channel with the global means and standard
// deviations the network was trained with, (x - mean) / std. The stored
// statistics may describe more channels than the backbone uses; only the
// first 73 are kept. Every step is denormalised with x * std + mean before it
// leaves the runner.
//
// # Stepping
//
// One forward pass advances the state by six hours. A lead time of L hours
// runs L/6 passes (any remainder is dropped), feeding each normalised output
// back as the next input. Step k (1-based) is valid at init + 6k hours.
//
// # Dataset encoding
//
// The dataset path stores every variable as int16 with add_offset = mean,
// scale_factor = std/1000 and _FillValue = -32767, which resolves values to a
// thousandth of a standard deviation over roughly ±32 standard deviations.
package domain
