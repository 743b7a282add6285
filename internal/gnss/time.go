package gnss

import (
	"math"
	"time"
)

// GPSEpoch is the origin of GPS week numbering. Times handled by this
// package are GPS time labels carried in time.Time; no leap seconds are applied.
var GPSEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

const secondsPerWeek = 7 * 24 * 3600

// TimeOfWeek splits t into GPS week and seconds of week.
func TimeOfWeek(t time.Time) (week int, tow float64) {
	d := t.Sub(GPSEpoch)
	sec := d.Seconds()
	week = int(math.Floor(sec / secondsPerWeek))
	tow = sec - float64(week)*secondsPerWeek
	return week, tow
}

// GPSTime is the inverse of TimeOfWeek.
func GPSTime(week int, tow float64) time.Time {
	whole := math.Floor(tow)
	frac := tow - whole
	return GPSEpoch.
		Add(time.Duration(week) * secondsPerWeek * time.Second).
		Add(time.Duration(whole) * time.Second).
		Add(time.Duration(math.Round(frac*1e9)) * time.Nanosecond)
}

// SameTimeOfWeek compares two time-of-week values at millisecond resolution,
// the finest resolution used by correction logs.
func SameTimeOfWeek(a, b float64) bool {
	return math.Abs(a-b) < 5e-4
}
