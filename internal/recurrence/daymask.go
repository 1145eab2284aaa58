package recurrence

import (
	"strings"
	"time"
)

// DayMask is a set of weekdays, bit 1<<time.Weekday being set for each day in the set.
type DayMask uint8

const (
	Sunday DayMask = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

const (
	AllDays     = Sunday | Monday | Tuesday | Wednesday | Thursday | Friday | Saturday // 127
	Weekdays    = Monday | Tuesday | Wednesday | Thursday | Friday                     // 62
	WeekendDays = Saturday | Sunday                                                    // 65
)

// LastOfMonth is the ordinal selecting the last matching day of a month instead of the fifth one.
const LastOfMonth = 5

// MaskOf returns the DayMask containing exactly the given days.
func MaskOf(days ...time.Weekday) DayMask {
	var m DayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}

	return m
}

// Contains returns whether the weekday d is part of m.
func (m DayMask) Contains(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// Days returns the weekdays of m, starting with Sunday.
func (m DayMask) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if m.Contains(d) {
			days = append(days, d)
		}
	}

	return days
}

func (m DayMask) String() string {
	var names []string
	for _, d := range m.Days() {
		names = append(names, d.String()[:3])
	}

	return strings.Join(names, ",")
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NthDayOfMonth returns the date of the n-th day of the month whose weekday is contained in mask.
//
// Days are counted from the first of the month on. With n == LastOfMonth, the last matching day of the month is
// returned instead. The result is midnight UTC. If no such day exists, e.g. because mask is empty or n is out of
// range, false is returned.
func NthDayOfMonth(year int, month time.Month, mask DayMask, n int) (time.Time, bool) {
	if mask&AllDays == 0 || n < 1 || n > LastOfMonth {
		return time.Time{}, false
	}

	days := DaysIn(year, month)
	if n == LastOfMonth {
		for day := days; day >= 1; day-- {
			t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			if mask.Contains(t.Weekday()) {
				return t, true
			}
		}

		return time.Time{}, false
	}

	count := 0
	for day := 1; day <= days; day++ {
		t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if mask.Contains(t.Weekday()) {
			count++
			if count == n {
				return t, true
			}
		}
	}

	return time.Time{}, false
}

// NthWeekday returns the n-th Monday to Friday of the month, see NthDayOfMonth.
func NthWeekday(year int, month time.Month, n int) (time.Time, bool) {
	return NthDayOfMonth(year, month, Weekdays, n)
}

// NthWeekendDay returns the n-th Saturday or Sunday of the month, see NthDayOfMonth.
func NthWeekendDay(year int, month time.Month, n int) (time.Time, bool) {
	return NthDayOfMonth(year, month, WeekendDays, n)
}

// clampedDate returns the given day of the month at the clock time of ref.
//
// Month overflows are normalized, e.g. month 14 of 2023 is February 2024. A day beyond the end of the month is
// clamped to the last day of the month, so the 31st becomes April 30th and February 28th or 29th.
func clampedDate(year int, month time.Month, day int, ref time.Time) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	year, month = first.Year(), first.Month()
	if days := DaysIn(year, month); day > days {
		day = days
	}

	return atClock(year, month, day, ref)
}

// atClock returns the date at the clock time of ref in UTC.
func atClock(year int, month time.Month, day int, ref time.Time) time.Time {
	hour, minute, sec := ref.UTC().Clock()
	return time.Date(year, month, day, hour, minute, sec, ref.Nanosecond(), time.UTC)
}
