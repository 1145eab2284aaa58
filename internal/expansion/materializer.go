package expansion

import (
	"context"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/contracts"
	"github.com/icinga/icingadb/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"time"
)

// Materialize stores the occurrence of series originally starting at originalStart as resolved by d.
//
// Returns whether a new occurrence was stored. If the occurrence is already materialized, nothing is written.
func Materialize(
	ctx context.Context, tx contracts.Tx, series *calendar.MasterEvent, originalStart time.Time, d Decision,
) (bool, error) {
	o := &calendar.Occurrence{
		MasterEventID: series.ID,
		OriginalStart: types.UnixMilli(originalStart),
		AccountID:     series.AccountID,
		StartTime:     types.UnixMilli(d.Start),
		EndTime:       types.UnixMilli(d.End),
		ExceptionID:   d.ExceptionID,
		Reminder:      d.Reminder,
		Subject:       d.Subject,
		Location:      d.Location,
	}

	inserted, err := tx.InsertOccurrence(ctx, o)
	if err != nil {
		return false, errors.Wrapf(err, "can't insert occurrence at %s", originalStart)
	}

	return inserted, nil
}

// materializer resolves and stores the occurrences of one series within a single transaction.
type materializer struct {
	tx     contracts.Tx
	series *calendar.MasterEvent
	logger *zap.SugaredLogger
	stats  *Stats
}

// emit is the recurrence.EmitFunc of the series' generators.
func (m *materializer) emit(ctx context.Context) func(start, end time.Time) error {
	return func(start, end time.Time) error {
		d, err := Resolve(ctx, m.tx, m.series, start, end)
		if err != nil {
			return err
		}

		if !d.Emit {
			m.stats.Suppressed++
			m.logger.Debugw("Occurrence deleted by exception",
				zap.Time("original_start", start), zap.Int64("exception", d.ExceptionID.Int64))
			return nil
		}

		inserted, err := Materialize(ctx, m.tx, m.series, start, d)
		if err != nil {
			return err
		}

		if inserted {
			m.stats.Inserted++
		} else {
			m.stats.Duplicates++
		}

		return nil
	}
}
