package recurrence

import (
	"github.com/teambition/rrule-go"
	"time"
)

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ROption renders r as RFC 5545 recurrence rule options for a series starting at dtstart.
//
// Weekly rules start their weeks on the weekday of dtstart, which matches the seven-day blocks of Generate.
// Days of month that are clamped by Generate, e.g. the 31st in April, are skipped by RRULE semantics instead.
func (r Rule) ROption(dtstart time.Time) rrule.ROption {
	dtstart = dtstart.UTC()
	opt := rrule.ROption{Dtstart: dtstart}
	if r.Pattern != nil {
		opt.Interval = r.Pattern.every()
	}

	switch p := r.Pattern.(type) {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Wkst = rruleWeekdays[dtstart.Weekday()]
		opt.Byweekday = rruleDays(p.Days)
	case Monthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{p.Day}
	case Yearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(p.Month)}
		opt.Bymonthday = []int{p.Day}
	case MonthlyByPosition:
		opt.Freq = rrule.MONTHLY
		switch s := p.Selector.(type) {
		case NthDay:
			opt.Byweekday = rruleDays(s.Days)
			if s.N == LastOfMonth {
				opt.Bysetpos = []int{-1}
			} else {
				opt.Bysetpos = []int{s.N}
			}
		case FixedDay:
			opt.Bymonthday = []int{s.Day}
		}
	}

	if until, ok := r.Bounds.Until.Get(); ok {
		opt.Until = until
	}
	if count, ok := r.Bounds.Count.Get(); ok {
		opt.Count = count
	}

	return opt
}

// RRuleString returns the RRULE property value of r for a series starting at dtstart, e.g. for logging.
func (r Rule) RRuleString(dtstart time.Time) string {
	opt := r.ROption(dtstart)
	return opt.RRuleString()
}

func rruleDays(m DayMask) []rrule.Weekday {
	var days []rrule.Weekday
	for _, d := range m.Days() {
		days = append(days, rruleWeekdays[d])
	}

	return days
}
