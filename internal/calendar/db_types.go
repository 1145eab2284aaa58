package calendar

import (
	"github.com/icinga/icingadb/pkg/types"
	"go.uber.org/zap/zapcore"
	"time"
)

// RecurrenceType is the stored pattern family of a recurrence rule, numbered like the ActiveSync calendar class.
type RecurrenceType int

const (
	Daily        RecurrenceType = 0
	Weekly       RecurrenceType = 1
	Monthly      RecurrenceType = 2
	MonthlyOnDay RecurrenceType = 3
	Yearly       RecurrenceType = 5
	YearlyOnDay  RecurrenceType = 6
)

func (t RecurrenceType) String() string {
	switch t {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case MonthlyOnDay:
		return "monthly-on-day"
	case Yearly:
		return "yearly"
	case YearlyOnDay:
		return "yearly-on-day"
	default:
		return "unknown"
	}
}

// MasterEvent is the stored definition of a calendar series.
type MasterEvent struct {
	ID        int64           `db:"id"`
	AccountID int64           `db:"account_id"`
	StartTime types.UnixMilli `db:"start_time"`
	EndTime   types.UnixMilli `db:"end_time"`
	AllDay    bool            `db:"all_day"`
	Reminder  types.Int       `db:"reminder"`

	// RecurrencesGeneratedUntil is the watermark of this series, NULL if nothing was generated yet.
	RecurrencesGeneratedUntil types.UnixMilli `db:"recurrences_generated_until"`
}

// TableName implements the contracts.TableNamer interface.
func (e *MasterEvent) TableName() string {
	return "master_event"
}

// Start returns the start of the first occurrence in UTC.
func (e *MasterEvent) Start() time.Time {
	return e.StartTime.Time().UTC()
}

// End returns the end of the first occurrence in UTC.
func (e *MasterEvent) End() time.Time {
	return e.EndTime.Time().UTC()
}

// Watermark returns the instant up to which occurrences were generated.
//
// The zero time means that nothing was generated yet, Exhausted that the series is complete.
func (e *MasterEvent) Watermark() time.Time {
	if e.RecurrencesGeneratedUntil.Time().IsZero() {
		return time.Time{}
	}

	return e.RecurrencesGeneratedUntil.Time().UTC()
}

// MarshalLogObject implements the zapcore.ObjectMarshaler interface.
func (e *MasterEvent) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt64("id", e.ID)
	encoder.AddInt64("account_id", e.AccountID)
	encoder.AddTime("start", e.Start())
	encoder.AddTime("end", e.End())
	encoder.AddBool("all_day", e.AllDay)
	if w := e.Watermark(); !w.IsZero() {
		encoder.AddTime("generated_until", w)
	}
	return nil
}

// Recurrence is a single stored recurrence rule of a MasterEvent, including the resumable generator cursor.
type Recurrence struct {
	ID            int64           `db:"id"`
	MasterEventID int64           `db:"master_event_id"`
	Type          RecurrenceType  `db:"type"`
	DayOfWeek     int             `db:"day_of_week"`
	DayOfMonth    int             `db:"day_of_month"`
	WeekOfMonth   int             `db:"week_of_month"`
	MonthOfYear   int             `db:"month_of_year"`
	Interval      int             `db:"repeat_interval"`
	Until         types.UnixMilli `db:"repeat_until"`
	Occurrences   types.Int       `db:"occurrences"`

	CursorStep      types.Int       `db:"cursor_step"`
	CursorSlot      types.Int       `db:"cursor_slot"`
	CursorCount     types.Int       `db:"cursor_count"`
	CursorLast      types.UnixMilli `db:"cursor_last"`
	CursorExhausted bool            `db:"cursor_exhausted"`
}

// TableName implements the contracts.TableNamer interface.
func (r *Recurrence) TableName() string {
	return "recurrence"
}

// MarshalLogObject implements the zapcore.ObjectMarshaler interface.
func (r *Recurrence) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt64("id", r.ID)
	encoder.AddString("type", r.Type.String())
	encoder.AddInt("day_of_week", r.DayOfWeek)
	encoder.AddInt("day_of_month", r.DayOfMonth)
	encoder.AddInt("week_of_month", r.WeekOfMonth)
	encoder.AddInt("month_of_year", r.MonthOfYear)
	encoder.AddInt("interval", r.Interval)
	return nil
}

// RecurrenceCursor is the cursor part of a Recurrence row, written back after each expansion.
type RecurrenceCursor struct {
	RecurrenceID    int64           `db:"id"`
	CursorStep      types.Int       `db:"cursor_step"`
	CursorSlot      types.Int       `db:"cursor_slot"`
	CursorCount     types.Int       `db:"cursor_count"`
	CursorLast      types.UnixMilli `db:"cursor_last"`
	CursorExhausted bool            `db:"cursor_exhausted"`
}

// TableName implements the contracts.TableNamer interface.
func (c *RecurrenceCursor) TableName() string {
	return "recurrence"
}

// Exception overrides or cancels the occurrence of a series that the rules placed at OriginalStart.
type Exception struct {
	ID            int64           `db:"id"`
	MasterEventID int64           `db:"master_event_id"`
	OriginalStart types.UnixMilli `db:"original_start"`
	Deleted       bool            `db:"deleted"`
	StartTime     types.UnixMilli `db:"start_time"`
	EndTime       types.UnixMilli `db:"end_time"`
	Reminder      types.Int       `db:"reminder"`
	Subject       types.String    `db:"subject"`
	Location      types.String    `db:"location"`
}

// TableName implements the contracts.TableNamer interface.
func (e *Exception) TableName() string {
	return "event_exception"
}

// Occurrence is a materialized instance of a series.
//
// The primary key is (MasterEventID, OriginalStart), so each rule computed instant is stored at most once.
type Occurrence struct {
	MasterEventID int64           `db:"master_event_id"`
	OriginalStart types.UnixMilli `db:"original_start"`
	AccountID     int64           `db:"account_id"`
	StartTime     types.UnixMilli `db:"start_time"`
	EndTime       types.UnixMilli `db:"end_time"`
	ExceptionID   types.Int       `db:"exception_id"`
	Reminder      types.Int       `db:"reminder"`
	Subject       types.String    `db:"subject"`
	Location      types.String    `db:"location"`
}

// TableName implements the contracts.TableNamer interface.
func (o *Occurrence) TableName() string {
	return "occurrence"
}

// MarshalLogObject implements the zapcore.ObjectMarshaler interface.
func (o *Occurrence) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt64("master_event_id", o.MasterEventID)
	encoder.AddTime("original_start", o.OriginalStart.Time().UTC())
	encoder.AddTime("start", o.StartTime.Time().UTC())
	encoder.AddTime("end", o.EndTime.Time().UTC())
	if o.ExceptionID.Valid {
		encoder.AddInt64("exception_id", o.ExceptionID.Int64)
	}
	return nil
}
