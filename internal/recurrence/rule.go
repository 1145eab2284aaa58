package recurrence

import (
	"fmt"
	"github.com/samber/mo"
	"go.uber.org/zap/zapcore"
	"time"
)

// Rule is a decoded recurrence rule: a Pattern producing candidate dates and the Bounds limiting them.
type Rule struct {
	ID      int64
	Pattern Pattern
	Bounds  Bounds
}

// Bounds limits the occurrences of a Rule. Both bounds are inclusive and independent of each other.
type Bounds struct {
	// Until is the latest original start an occurrence may have.
	Until mo.Option[time.Time]
	// Count is the maximum number of occurrences.
	Count mo.Option[int]
}

// Pattern is one of Daily, Weekly, Monthly, Yearly or MonthlyByPosition.
type Pattern interface {
	fmt.Stringer

	// every returns the interval of the pattern in units of its frequency.
	every() int
}

// Daily repeats every Interval days.
type Daily struct {
	Interval int
}

// Weekly repeats on Days in every Interval-th seven-day block counted from the series start.
type Weekly struct {
	Interval int
	Days     DayMask
}

// Monthly repeats on the Day of every Interval-th month.
type Monthly struct {
	Interval int
	Day      int
}

// Yearly repeats on Month and Day of every Interval-th year.
type Yearly struct {
	Interval int
	Month    time.Month
	Day      int
}

// MonthlyByPosition repeats every Interval-th month on the day chosen by Selector.
type MonthlyByPosition struct {
	Interval int
	Selector Selector
}

// Selector picks the day of a month for MonthlyByPosition. It is either NthDay or FixedDay.
type Selector interface {
	fmt.Stringer

	// day returns the selected day of the given month.
	day(year int, month time.Month) (int, bool)
}

// NthDay selects the N-th day of a month whose weekday is in Days, N == LastOfMonth meaning the last one.
type NthDay struct {
	Days DayMask
	N    int
}

// FixedDay selects a fixed day of a month, clamped to the last day of shorter months.
type FixedDay struct {
	Day int
}

func (p Daily) every() int             { return p.Interval }
func (p Weekly) every() int            { return p.Interval }
func (p Monthly) every() int           { return p.Interval }
func (p Yearly) every() int            { return p.Interval }
func (p MonthlyByPosition) every() int { return p.Interval }

func (p Daily) String() string {
	return fmt.Sprintf("every %d day(s)", p.Interval)
}

func (p Weekly) String() string {
	return fmt.Sprintf("every %d week(s) on %s", p.Interval, p.Days)
}

func (p Monthly) String() string {
	return fmt.Sprintf("every %d month(s) on day %d", p.Interval, p.Day)
}

func (p Yearly) String() string {
	return fmt.Sprintf("every %d year(s) on %s %d", p.Interval, p.Month, p.Day)
}

func (p MonthlyByPosition) String() string {
	return fmt.Sprintf("every %d month(s) on %s", p.Interval, p.Selector)
}

func (s NthDay) day(year int, month time.Month) (int, bool) {
	t, ok := NthDayOfMonth(year, month, s.Days, s.N)
	return t.Day(), ok
}

func (s NthDay) String() string {
	if s.N == LastOfMonth {
		return fmt.Sprintf("the last of %s", s.Days)
	}

	return fmt.Sprintf("the %d. of %s", s.N, s.Days)
}

func (s FixedDay) day(year int, month time.Month) (int, bool) {
	if days := DaysIn(year, month); s.Day > days {
		return days, true
	}

	return s.Day, true
}

func (s FixedDay) String() string {
	return fmt.Sprintf("day %d", s.Day)
}

// MarshalLogObject implements the zapcore.ObjectMarshaler interface.
func (r Rule) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt64("id", r.ID)
	encoder.AddString("pattern", r.Pattern.String())
	if until, ok := r.Bounds.Until.Get(); ok {
		encoder.AddTime("until", until)
	}
	if count, ok := r.Bounds.Count.Get(); ok {
		encoder.AddInt("count", count)
	}
	return nil
}
