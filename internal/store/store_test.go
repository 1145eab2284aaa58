package store

import (
	"context"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/contracts"
	"github.com/icinga/icinga-calendar/internal/expansion"
	"github.com/icinga/icinga-calendar/internal/testutils"
	"github.com/icinga/icinga-calendar/internal/utils"
	"github.com/icinga/icingadb/pkg/icingadb"
	"github.com/icinga/icingadb/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err, "parsing %q should not fail", s)

	return ts.UTC()
}

func newSQLiteStore(t *testing.T) *Store {
	logger := testutils.NewTestLogger(t)

	db, err := OpenSQLite(":memory:", logger)
	require.NoError(t, err, "opening SQLite database should not fail")
	t.Cleanup(func() { _ = db.Close() })

	return New(db, logger)
}

func hourly(t *testing.T, start string) *calendar.MasterEvent {
	s := at(t, start)
	return &calendar.MasterEvent{
		AccountID: 3,
		StartTime: types.UnixMilli(s),
		EndTime:   types.UnixMilli(s.Add(time.Hour)),
		Reminder:  utils.ToDBInt(10),
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	db, err := OpenSQLite(":memory:", testutils.NewTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(sqliteSchema)
	assert.NoError(t, err, "applying the schema twice should not fail")
}

func TestStore(t *testing.T) {
	testStore(t, func(t *testing.T) *Store {
		return newSQLiteStore(t)
	})
}

// TestStore_ExternalDatabase runs the store tests against a MySQL or PostgreSQL database with the calendar schema.
func TestStore_ExternalDatabase(t *testing.T) {
	ctx := context.Background()
	db := testutils.GetTestDB(ctx, t)
	t.Cleanup(func() { _ = db.Close() })

	testStore(t, func(t *testing.T) *Store {
		clearTables(ctx, t, db)
		return New(db, testutils.NewTestLogger(t))
	})
}

func clearTables(ctx context.Context, t *testing.T, db *icingadb.DB) {
	for _, table := range []string{"occurrence", "event_exception", "recurrence", "master_event"} {
		_, err := db.ExecContext(ctx, `DELETE FROM "`+table+`"`)
		require.NoError(t, err, "clearing table %q should not fail", table)
	}
}

func testStore(t *testing.T, newStore func(t *testing.T) *Store) {
	ctx := context.Background()

	t.Run("InsertOccurrence", func(t *testing.T) {
		s := newStore(t)

		series := hourly(t, "2024-01-01T10:00:00Z")
		require.NoError(t, s.InsertSeries(ctx, series, nil, nil))
		require.NotZero(t, series.ID)

		o := &calendar.Occurrence{
			MasterEventID: series.ID,
			OriginalStart: series.StartTime,
			AccountID:     series.AccountID,
			StartTime:     series.StartTime,
			EndTime:       series.EndTime,
			Subject:       utils.ToDBString("Standup"),
		}

		err := s.RunInTx(ctx, func(ctx context.Context, tx contracts.Tx) error {
			inserted, err := tx.InsertOccurrence(ctx, o)
			require.NoError(t, err)
			assert.True(t, inserted, "first insert should store the occurrence")

			moved := *o
			moved.StartTime = types.UnixMilli(at(t, "2024-01-01T12:00:00Z"))

			inserted, err = tx.InsertOccurrence(ctx, &moved)
			require.NoError(t, err)
			assert.False(t, inserted, "occurrence with the same original start should be ignored")

			return nil
		})
		require.NoError(t, err)

		occurrences, err := s.Occurrences(ctx, series.ID)
		require.NoError(t, err)
		require.Len(t, occurrences, 1)
		assert.Equal(t, at(t, "2024-01-01T10:00:00Z"), occurrences[0].StartTime.Time().UTC())
		assert.Equal(t, "Standup", occurrences[0].Subject.String)
		assert.False(t, occurrences[0].ExceptionID.Valid)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		s := newStore(t)

		series := hourly(t, "2024-01-01T10:00:00Z")
		require.NoError(t, s.InsertSeries(ctx, series, nil, nil))

		errAbort := errors.New("abort")
		err := s.RunInTx(ctx, func(ctx context.Context, tx contracts.Tx) error {
			_, err := tx.InsertOccurrence(ctx, &calendar.Occurrence{
				MasterEventID: series.ID,
				OriginalStart: series.StartTime,
				AccountID:     series.AccountID,
				StartTime:     series.StartTime,
				EndTime:       series.EndTime,
			})
			require.NoError(t, err)
			require.NoError(t, tx.UpdateWatermark(ctx, series.ID, calendar.Exhausted))

			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		occurrences, err := s.Occurrences(ctx, series.ID)
		require.NoError(t, err)
		assert.Empty(t, occurrences)

		got, err := s.Series(ctx, series.ID)
		require.NoError(t, err)
		assert.True(t, got.Watermark().IsZero())
	})

	t.Run("DueForExpansion", func(t *testing.T) {
		s := newStore(t)
		horizon := at(t, "2024-04-01T00:00:00Z")

		watermarks := map[string]time.Time{
			"never":     {},
			"behind":    at(t, "2024-03-01T00:00:00Z"),
			"horizon":   horizon,
			"exhausted": calendar.Exhausted,
		}

		ids := map[string]int64{}
		for name, watermark := range watermarks {
			series := hourly(t, "2024-01-01T10:00:00Z")
			series.RecurrencesGeneratedUntil = types.UnixMilli(watermark)
			require.NoError(t, s.InsertSeries(ctx, series, nil, nil))
			ids[name] = series.ID
		}

		due, err := s.DueForExpansion(ctx, horizon)
		require.NoError(t, err)

		var got []int64
		for _, series := range due {
			got = append(got, series.ID)
		}
		assert.ElementsMatch(t, []int64{ids["never"], ids["behind"]}, got)

		exhausted, err := s.Series(ctx, ids["exhausted"])
		require.NoError(t, err)
		assert.True(t, calendar.IsExhausted(exhausted.Watermark()))
	})

	t.Run("ExceptionByOriginalStart", func(t *testing.T) {
		s := newStore(t)

		series := hourly(t, "2024-01-01T10:00:00Z")
		require.NoError(t, s.InsertSeries(ctx, series, nil, []*calendar.Exception{{
			OriginalStart: types.UnixMilli(at(t, "2024-01-02T10:00:00Z")),
			StartTime:     types.UnixMilli(at(t, "2024-01-02T11:00:00Z")),
			EndTime:       types.UnixMilli(at(t, "2024-01-02T12:00:00Z")),
			Location:      utils.ToDBString("Room 2"),
		}}))

		err := s.RunInTx(ctx, func(ctx context.Context, tx contracts.Tx) error {
			e, err := tx.ExceptionByOriginalStart(ctx, series.ID, at(t, "2024-01-02T10:00:00Z"))
			require.NoError(t, err)
			require.NotNil(t, e)
			assert.False(t, e.Deleted)
			assert.Equal(t, at(t, "2024-01-02T11:00:00Z"), e.StartTime.Time().UTC())
			assert.Equal(t, "Room 2", e.Location.String)
			assert.False(t, e.Subject.Valid)

			e, err = tx.ExceptionByOriginalStart(ctx, series.ID, at(t, "2024-01-03T10:00:00Z"))
			require.NoError(t, err)
			assert.Nil(t, e)

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("SeriesNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Series(ctx, 4711)
		assert.ErrorIs(t, err, calendar.ErrSeriesNotFound)
		assert.ErrorIs(t, s.ResetSeries(ctx, 4711), calendar.ErrSeriesNotFound)
	})

	t.Run("Expansion", func(t *testing.T) {
		s := newStore(t)
		e := expansion.NewExpander(s, testutils.NewTestLogger(t), expansion.Options{HorizonMonths: 3})
		now := at(t, "2024-01-01T00:00:00Z")

		monthly := hourly(t, "2024-01-01T10:00:00Z")
		rule := &calendar.Recurrence{Type: calendar.Monthly, DayOfMonth: 1, Interval: 1, Occurrences: utils.ToDBInt(3)}
		require.NoError(t, s.InsertSeries(ctx, monthly, []*calendar.Recurrence{rule}, []*calendar.Exception{{
			OriginalStart: types.UnixMilli(at(t, "2024-02-01T10:00:00Z")),
			StartTime:     types.UnixMilli(at(t, "2024-02-02T10:00:00Z")),
			EndTime:       types.UnixMilli(at(t, "2024-02-02T11:00:00Z")),
			Reminder:      utils.ToDBInt(30),
		}}))

		weekly := hourly(t, "2024-01-01T09:00:00Z")
		require.NoError(t, s.InsertSeries(ctx, weekly, []*calendar.Recurrence{
			{Type: calendar.Weekly, DayOfWeek: 2, Interval: 2},
		}, []*calendar.Exception{{
			OriginalStart: types.UnixMilli(at(t, "2024-01-15T09:00:00Z")),
			Deleted:       true,
		}}))

		stats, err := e.ExpandAll(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, expansion.Stats{Series: 2, Inserted: 3 + 7, Suppressed: 1}, stats)

		occurrences, err := s.Occurrences(ctx, monthly.ID)
		require.NoError(t, err)
		require.Len(t, occurrences, 3)
		assert.Equal(t, at(t, "2024-02-02T10:00:00Z"), occurrences[1].StartTime.Time().UTC())
		assert.Equal(t, at(t, "2024-02-01T10:00:00Z"), occurrences[1].OriginalStart.Time().UTC())
		assert.True(t, occurrences[1].ExceptionID.Valid)
		assert.Equal(t, int64(30), occurrences[1].Reminder.Int64)
		assert.Equal(t, int64(10), occurrences[2].Reminder.Int64)
		assert.Equal(t, int64(3), occurrences[2].AccountID)

		got, err := s.Series(ctx, monthly.ID)
		require.NoError(t, err)
		assert.True(t, calendar.IsExhausted(got.Watermark()))

		got, err = s.Series(ctx, weekly.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Horizon(now), got.Watermark())

		var cursor calendar.RecurrenceCursor
		require.NoError(t, s.db.Get(&cursor, s.db.Rebind(
			`SELECT "id", "cursor_step", "cursor_slot", "cursor_count", "cursor_last", "cursor_exhausted" FROM "recurrence" WHERE "id" = ?`,
		), rule.ID))
		assert.True(t, cursor.CursorExhausted)
		assert.Equal(t, int64(3), cursor.CursorCount.Int64)
		assert.Equal(t, at(t, "2024-03-01T10:00:00Z"), cursor.CursorLast.Time().UTC())

		// A pass with the same horizon has nothing to do.
		stats, err = e.ExpandAll(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, expansion.Stats{}, stats)

		// The next pass resumes the weekly series at its cursor.
		stats, err = e.ExpandAll(ctx, at(t, "2024-02-01T00:00:00Z"))
		require.NoError(t, err)
		assert.Equal(t, expansion.Stats{Series: 1, Inserted: 2}, stats)

		stats, err = e.ExpandOne(ctx, weekly.ID, at(t, "2024-02-01T00:00:00Z"))
		require.NoError(t, err)
		assert.Equal(t, expansion.Stats{Series: 1, Inserted: 9, Suppressed: 1}, stats)

		occurrences, err = s.Occurrences(ctx, weekly.ID)
		require.NoError(t, err)
		assert.Len(t, occurrences, 9)
	})
}
