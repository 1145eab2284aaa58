package expansion

import (
	"context"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/contracts"
	"github.com/icinga/icinga-calendar/internal/utils"
	"github.com/icinga/icingadb/pkg/types"
	"github.com/pkg/errors"
	"time"
)

// Decision is the outcome of resolving a computed occurrence against the exceptions of its series.
type Decision struct {
	// Emit is false if the occurrence was deleted by an exception.
	Emit bool

	Start time.Time
	End   time.Time

	// ExceptionID refers to the exception that modified or deleted the occurrence, if any.
	ExceptionID types.Int

	Reminder types.Int
	Subject  types.String
	Location types.String
}

// Resolve decides how the occurrence of series computed at (originalStart, originalEnd) is materialized.
//
// Without an exception for originalStart, the occurrence is emitted unchanged. A deleted exception suppresses it.
// Otherwise, the exception's start and end replace the computed ones and its reminder, subject and location are
// passed through verbatim, falling back to the series' reminder.
func Resolve(
	ctx context.Context, tx contracts.Tx, series *calendar.MasterEvent, originalStart, originalEnd time.Time,
) (Decision, error) {
	d := Decision{Emit: true, Start: originalStart, End: originalEnd, Reminder: series.Reminder}

	e, err := tx.ExceptionByOriginalStart(ctx, series.ID, originalStart)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "can't look up exception for occurrence at %s", originalStart)
	}
	if e == nil {
		return d, nil
	}

	d.ExceptionID = utils.ToDBInt(e.ID)
	if e.Deleted {
		d.Emit = false
		return d, nil
	}

	if start := e.StartTime.Time(); !start.IsZero() {
		d.Start = start.UTC()
	}
	if end := e.EndTime.Time(); !end.IsZero() {
		d.End = end.UTC()
	}
	if e.Reminder.Valid {
		d.Reminder = e.Reminder
	}
	d.Subject = e.Subject
	d.Location = e.Location

	return d, nil
}
