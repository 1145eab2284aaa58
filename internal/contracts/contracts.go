package contracts

import (
	"context"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"time"
)

// Store is the calendar store the expansion works on.
type Store interface {
	// DueForExpansion returns all series whose watermark is NULL or before horizon.
	DueForExpansion(ctx context.Context, horizon time.Time) ([]*calendar.MasterEvent, error)

	// Series returns a single series, calendar.ErrSeriesNotFound if it does not exist.
	Series(ctx context.Context, id int64) (*calendar.MasterEvent, error)

	// ResetSeries deletes all occurrences of a series, clears the cursors of its rules and resets its watermark
	// to "never generated".
	ResetSeries(ctx context.Context, id int64) error

	// RunInTx calls f within a new transaction, which is committed if f returns nil and rolled back otherwise.
	RunInTx(ctx context.Context, f func(context.Context, Tx) error) error
}

// Tx provides the operations of a single series expansion, all within the same transaction.
type Tx interface {
	// Rules returns the recurrence rules of a series ordered by their ID.
	Rules(ctx context.Context, masterEventID int64) ([]*calendar.Recurrence, error)

	// ExceptionByOriginalStart returns the exception of a series for the occurrence originally starting at
	// originalStart or nil if there is none.
	ExceptionByOriginalStart(ctx context.Context, masterEventID int64, originalStart time.Time) (*calendar.Exception, error)

	// InsertOccurrence stores o unless an occurrence with the same series and original start already exists.
	// Returns whether o was inserted.
	InsertOccurrence(ctx context.Context, o *calendar.Occurrence) (bool, error)

	// UpdateWatermark sets the watermark of a series. The zero time resets it to "never generated".
	UpdateWatermark(ctx context.Context, masterEventID int64, watermark time.Time) error

	// UpdateCursor stores the generator cursor of a rule.
	UpdateCursor(ctx context.Context, c *calendar.RecurrenceCursor) error
}
