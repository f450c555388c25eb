package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TimeUnits is the CF units string written for time coordinates.
const TimeUnits = "hours since 1970-01-01 00:00:00"

var cfUnitDurations = map[string]time.Duration{
	"seconds": time.Second,
	"second":  time.Second,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
}

var cfEpochLayouts = []string{
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseCFTime converts a numeric CF time value with units such as
// "hours since 1900-01-01 00:00:00.0" into a UTC time.
func ParseCFTime(value float64, units string) (time.Time, error) {
	unit, epochStr, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	step, ok := cfUnitDurations[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}
	epochStr = strings.TrimSuffix(strings.TrimSpace(epochStr), " UTC")
	var epoch time.Time
	var err error
	for _, layout := range cfEpochLayouts {
		epoch, err = time.Parse(layout, epochStr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported time epoch %q", epochStr)
	}
	whole, frac := math.Modf(value)
	d := time.Duration(whole)*step + time.Duration(frac*float64(step))
	return epoch.UTC().Add(d), nil
}

// HoursSinceEpoch encodes t for the TimeUnits convention.
func HoursSinceEpoch(t time.Time) float64 {
	return t.Sub(time.Unix(0, 0).UTC()).Hours()
}
