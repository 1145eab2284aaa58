package recurrence

import (
	"fmt"
	"time"
)

// Series is the part of a calendar series the generators need: its first occurrence.
type Series struct {
	ID    int64
	Start time.Time
	End   time.Time
}

// Cursor is the resumable state of a rule's generator after the last computed occurrence.
type Cursor struct {
	// Step and Slot locate the next candidate: Step counts intervals from the series start, Slot is the day within
	// a seven-day block for Weekly patterns and always zero for all others.
	Step int
	Slot int

	// Count is the number of occurrences computed so far.
	Count int

	// Last is the original start of the last computed occurrence, zero if there is none yet.
	Last time.Time

	// Exhausted is set once the rule's bounds are reached. No further occurrences will be computed.
	Exhausted bool
}

// EmitFunc receives an occurrence computed by Generate.
type EmitFunc func(start, end time.Time) error

// Generate computes the occurrences of rule for the series in ascending order and passes each one with a start
// after resumeAfter to emit. A zero resumeAfter means that nothing was generated for the series yet.
//
// Generation stops after the first occurrence starting at or after horizon, which is still emitted, and returns the
// Cursor describing that position. Once the Count bound is reached or an occurrence would start after the Until
// bound, the returned Cursor is Exhausted. Candidates before the series start are skipped and do not count.
//
// If cursor is not nil and resumeAfter is not zero, generation resumes at the cursor instead of the series start.
// This yields the same emitted occurrences as starting over, provided the cursor was returned by a previous call for
// the same series and rule. A cursor whose last occurrence is at or after horizon is returned as is.
func Generate(series Series, rule Rule, resumeAfter, horizon time.Time, cursor *Cursor, emit EmitFunc) (Cursor, error) {
	var state Cursor
	if cursor != nil && !resumeAfter.IsZero() {
		state = *cursor
	}

	if state.Exhausted {
		return state, nil
	}

	// The cursor already covers the horizon.
	if !state.Last.IsZero() && !state.Last.Before(horizon) {
		return state, nil
	}

	w, err := newWalker(series.Start, rule.Pattern)
	if err != nil {
		return state, err
	}

	duration := series.End.Sub(series.Start)
	count, hasCount := rule.Bounds.Count.Get()
	until, hasUntil := rule.Bounds.Until.Get()

	pos := position{step: state.Step, slot: state.Slot}
	for {
		start, next, ok := w.next(pos)
		if !ok {
			return state, fmt.Errorf("%w: rule %d yields no candidate at step %d", ErrInvalidRule, rule.ID, pos.step)
		}

		pos = next
		if start.Before(series.Start) {
			state.Step, state.Slot = pos.step, pos.slot
			continue
		}

		if hasCount && state.Count >= count {
			state.Exhausted = true
			return state, nil
		}
		if hasUntil && start.After(until) {
			state.Exhausted = true
			return state, nil
		}

		if start.After(resumeAfter) {
			if err := emit(start, start.Add(duration)); err != nil {
				return state, err
			}
		}

		state.Step, state.Slot = pos.step, pos.slot
		state.Count++
		state.Last = start

		if hasCount && state.Count >= count {
			state.Exhausted = true
			return state, nil
		}
		if !start.Before(horizon) {
			return state, nil
		}
	}
}

type position struct {
	step int
	slot int
}

// walker computes the candidates of a Pattern.
type walker interface {
	// next returns the first candidate at or after pos and the position following it.
	next(pos position) (time.Time, position, bool)
}

func newWalker(first time.Time, p Pattern) (walker, error) {
	first = first.UTC()
	if p == nil || p.every() < 1 {
		return nil, fmt.Errorf("%w: pattern %v has no positive interval", ErrInvalidRule, p)
	}

	switch p := p.(type) {
	case Daily:
		return dailyWalker{first: first, interval: p.Interval}, nil
	case Weekly:
		return weeklyWalker{first: first, interval: p.Interval, days: p.Days}, nil
	case Monthly:
		return monthlyWalker{first: first, interval: p.Interval, day: p.Day}, nil
	case Yearly:
		return yearlyWalker{first: first, interval: p.Interval, month: p.Month, day: p.Day}, nil
	case MonthlyByPosition:
		return positionWalker{first: first, interval: p.Interval, selector: p.Selector}, nil
	default:
		return nil, fmt.Errorf("%w: pattern %T", ErrUnsupportedRule, p)
	}
}

type dailyWalker struct {
	first    time.Time
	interval int
}

func (w dailyWalker) next(pos position) (time.Time, position, bool) {
	return w.first.AddDate(0, 0, pos.step*w.interval), position{step: pos.step + 1}, true
}

// weeklyWalker tests each day of a seven-day block starting at the series start day against the mask, and skips
// interval-1 blocks after each block.
type weeklyWalker struct {
	first    time.Time
	interval int
	days     DayMask
}

func (w weeklyWalker) next(pos position) (time.Time, position, bool) {
	for i := 0; i < 7; i++ {
		t := w.first.AddDate(0, 0, 7*pos.step*w.interval+pos.slot)

		pos.slot++
		if pos.slot == 7 {
			pos.step++
			pos.slot = 0
		}

		if w.days.Contains(t.Weekday()) {
			return t, pos, true
		}
	}

	return time.Time{}, pos, false
}

type monthlyWalker struct {
	first    time.Time
	interval int
	day      int
}

func (w monthlyWalker) next(pos position) (time.Time, position, bool) {
	month := w.first.Month() + time.Month(pos.step*w.interval)
	return clampedDate(w.first.Year(), month, w.day, w.first), position{step: pos.step + 1}, true
}

type yearlyWalker struct {
	first    time.Time
	interval int
	month    time.Month
	day      int
}

func (w yearlyWalker) next(pos position) (time.Time, position, bool) {
	year := w.first.Year() + pos.step*w.interval
	return clampedDate(year, w.month, w.day, w.first), position{step: pos.step + 1}, true
}

// positionWalker recomputes the selected day for every month rather than adding a fixed number of days.
type positionWalker struct {
	first    time.Time
	interval int
	selector Selector
}

func (w positionWalker) next(pos position) (time.Time, position, bool) {
	anchor := time.Date(w.first.Year(), w.first.Month()+time.Month(pos.step*w.interval), 1, 0, 0, 0, 0, time.UTC)
	day, ok := w.selector.day(anchor.Year(), anchor.Month())
	if !ok {
		return time.Time{}, pos, false
	}

	return atClock(anchor.Year(), anchor.Month(), day, w.first), position{step: pos.step + 1}, true
}
