package calendar

import (
	"errors"
	"time"
)

// Exhausted is the watermark of a series that will never produce further occurrences.
//
// It is stored as a regular timestamp far in the future, so that it is never below any expansion horizon.
var Exhausted = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// ErrSeriesNotFound is returned when a MasterEvent does not exist in the calendar store.
var ErrSeriesNotFound = errors.New("series not found")

// IsExhausted reports whether the watermark w marks a complete series.
func IsExhausted(w time.Time) bool {
	return !w.Before(Exhausted)
}
