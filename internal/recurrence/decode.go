package recurrence

import (
	"fmt"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"time"
)

var (
	// ErrUnsupportedRule is returned for stored rules of a type no generator exists for.
	ErrUnsupportedRule = errors.New("unsupported recurrence rule")

	// ErrInvalidRule is returned for stored rules with out of range or contradictory fields.
	ErrInvalidRule = errors.New("invalid recurrence rule")
)

// Decode turns a stored recurrence rule of a series starting at first into a Rule.
//
// The stored DayOfWeek field doubles as a selector for MonthlyOnDay rules: AllDays picks a fixed day of the month
// (given by WeekOfMonth), Weekdays and WeekendDays the n-th weekday or weekend day, and any other mask the n-th day
// matching that mask. A Daily rule with a DayOfWeek mask is a Weekly rule.
//
// Fields of the rule that disagree with the series start are reported as inconsistencies, but the rule's fields
// are used. Errors wrap ErrUnsupportedRule or ErrInvalidRule.
func Decode(r *calendar.Recurrence, first time.Time) (Rule, []string, error) {
	rule := Rule{ID: r.ID}
	var inconsistencies []string

	interval := r.Interval
	if interval == 0 {
		interval = 1
	} else if interval < 0 {
		return rule, nil, errors.Wrapf(ErrInvalidRule, "interval must not be negative, got %d", r.Interval)
	}

	if r.Occurrences.Valid {
		if r.Occurrences.Int64 < 1 {
			return rule, nil, errors.Wrapf(ErrInvalidRule, "occurrences must be positive, got %d", r.Occurrences.Int64)
		}

		rule.Bounds.Count = mo.Some(int(r.Occurrences.Int64))
	}
	if until := r.Until.Time(); !until.IsZero() {
		rule.Bounds.Until = mo.Some(until.UTC())
	}

	if r.DayOfWeek < 0 || r.DayOfWeek > int(AllDays) {
		return rule, nil, errors.Wrapf(ErrInvalidRule, "day of week mask %d out of range", r.DayOfWeek)
	}
	mask := DayMask(r.DayOfWeek)

	switch r.Type {
	case calendar.Daily:
		if mask == 0 {
			rule.Pattern = Daily{Interval: interval}
		} else {
			rule.Pattern = Weekly{Interval: interval, Days: mask}
		}
	case calendar.Weekly:
		if mask == 0 {
			return rule, nil, errors.Wrap(ErrInvalidRule, "weekly rule without any day of week")
		}

		rule.Pattern = Weekly{Interval: interval, Days: mask}
	case calendar.Monthly:
		day, err := dayOfMonth(r.DayOfMonth, first, &inconsistencies)
		if err != nil {
			return rule, nil, err
		}

		rule.Pattern = Monthly{Interval: interval, Day: day}
	case calendar.Yearly:
		month := time.Month(r.MonthOfYear)
		switch {
		case r.MonthOfYear == 0:
			month = first.Month()
		case month < time.January || month > time.December:
			return rule, nil, errors.Wrapf(ErrInvalidRule, "month of year %d out of range", r.MonthOfYear)
		case month != first.Month():
			inconsistencies = append(inconsistencies,
				fmt.Sprintf("month of year %d differs from series start month %d", r.MonthOfYear, first.Month()))
		}

		day, err := dayOfMonth(r.DayOfMonth, first, &inconsistencies)
		if err != nil {
			return rule, nil, err
		}

		rule.Pattern = Yearly{Interval: interval, Month: month, Day: day}
	case calendar.MonthlyOnDay:
		var selector Selector
		switch mask {
		case 0:
			return rule, nil, errors.Wrap(ErrInvalidRule, "monthly on day rule without any day of week")
		case AllDays:
			if r.WeekOfMonth < 1 || r.WeekOfMonth > 31 {
				return rule, nil, errors.Wrapf(ErrInvalidRule, "day of month %d out of range", r.WeekOfMonth)
			}

			selector = FixedDay{Day: r.WeekOfMonth}
		default:
			// Weekdays and WeekendDays are regular masks as far as counting days is concerned.
			if r.WeekOfMonth < 1 || r.WeekOfMonth > LastOfMonth {
				return rule, nil, errors.Wrapf(ErrInvalidRule, "week of month %d out of range", r.WeekOfMonth)
			}

			selector = NthDay{Days: mask, N: r.WeekOfMonth}
		}

		rule.Pattern = MonthlyByPosition{Interval: interval, Selector: selector}
	default:
		return rule, nil, errors.Wrapf(ErrUnsupportedRule, "recurrence type %s (%d)", r.Type, int(r.Type))
	}

	return rule, inconsistencies, nil
}

// dayOfMonth validates a stored day of month, falling back to the day of first if unset.
func dayOfMonth(stored int, first time.Time, inconsistencies *[]string) (int, error) {
	switch {
	case stored == 0:
		return first.Day(), nil
	case stored < 1 || stored > 31:
		return 0, errors.Wrapf(ErrInvalidRule, "day of month %d out of range", stored)
	case stored != first.Day():
		*inconsistencies = append(*inconsistencies,
			fmt.Sprintf("day of month %d differs from series start day %d", stored, first.Day()))
	}

	return stored, nil
}
