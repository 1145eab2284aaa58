package store

import (
	"context"
	"database/sql"
	_ "embed"
	"github.com/creasty/defaults"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/contracts"
	"github.com/icinga/icinga-calendar/internal/utils"
	"github.com/icinga/icingadb/pkg/icingadb"
	"github.com/icinga/icingadb/pkg/logging"
	"github.com/icinga/icingadb/pkg/types"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"time"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// OpenSQLite opens the SQLite database at path and creates the calendar tables if they don't exist yet.
//
// The special path ":memory:" opens a private in-memory database.
func OpenSQLite(path string, logger *logging.Logger) (*icingadb.DB, error) {
	sqlxDb, err := sqlx.Open(utils.SQLite, path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "can't open SQLite database %q", path)
	}

	// SQLite allows only a single writer, and each connection to ":memory:" has its own database.
	sqlxDb.SetMaxOpenConns(1)
	sqlxDb.SetMaxIdleConns(1)
	sqlxDb.SetConnMaxLifetime(0)

	if _, err := sqlxDb.Exec(sqliteSchema); err != nil {
		_ = sqlxDb.Close()
		return nil, errors.Wrap(err, "can't create SQLite schema")
	}

	options := &icingadb.Options{}
	if err := defaults.Set(options); err != nil {
		_ = sqlxDb.Close()
		return nil, errors.Wrap(err, "can't set database option defaults")
	}

	return icingadb.NewDb(sqlxDb, logger, options), nil
}

// Store implements contracts.Store on top of an icingadb.DB, which may be backed by MySQL, PostgreSQL or SQLite.
type Store struct {
	db     *icingadb.DB
	logger *logging.Logger
}

// New creates a new Store using db.
func New(db *icingadb.DB, logger *logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DueForExpansion implements the contracts.Store interface.
func (s *Store) DueForExpansion(ctx context.Context, horizon time.Time) ([]*calendar.MasterEvent, error) {
	stmt := s.db.Rebind(s.db.BuildSelectStmt(&calendar.MasterEvent{}, &calendar.MasterEvent{}) +
		` WHERE "recurrences_generated_until" IS NULL OR "recurrences_generated_until" < ? ORDER BY "id"`)

	var due []*calendar.MasterEvent
	if err := s.db.SelectContext(ctx, &due, stmt, types.UnixMilli(horizon)); err != nil {
		return nil, errors.Wrap(err, "can't select series due for expansion")
	}

	return due, nil
}

// Series implements the contracts.Store interface.
func (s *Store) Series(ctx context.Context, id int64) (*calendar.MasterEvent, error) {
	return getSeries(ctx, s.db, s.db, id)
}

// ResetSeries implements the contracts.Store interface.
func (s *Store) ResetSeries(ctx context.Context, id int64) error {
	return s.RunInTx(ctx, func(ctx context.Context, t contracts.Tx) error {
		tx := t.(*Tx).tx

		if _, err := getSeries(ctx, s.db, tx, id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM "occurrence" WHERE "master_event_id" = ?`), id); err != nil {
			return errors.Wrapf(err, "can't delete occurrences of series %d", id)
		}

		_, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE "recurrence" SET "cursor_step" = NULL, "cursor_slot" = NULL, `+
			`"cursor_count" = NULL, "cursor_last" = NULL, "cursor_exhausted" = ? WHERE "master_event_id" = ?`), false, id)
		if err != nil {
			return errors.Wrapf(err, "can't reset recurrence cursors of series %d", id)
		}

		s.logger.Debugw("Reset series", zap.Int64("series", id))

		return t.UpdateWatermark(ctx, id, time.Time{})
	})
}

// RunInTx implements the contracts.Store interface.
func (s *Store) RunInTx(ctx context.Context, f func(context.Context, contracts.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't start transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := f(ctx, &Tx{db: s.db, tx: tx}); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "can't commit transaction")
}

// InsertSeries stores a new series with its rules and exceptions, setting their IDs.
func (s *Store) InsertSeries(
	ctx context.Context, series *calendar.MasterEvent, rules []*calendar.Recurrence, exceptions []*calendar.Exception,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't start transaction")
	}
	defer func() { _ = tx.Rollback() }()

	series.ID, err = utils.InsertAndFetchId(ctx, tx, utils.BuildInsertStmtWithout(s.db, series, "id"), series)
	if err != nil {
		return errors.Wrap(err, "can't insert series")
	}

	for _, r := range rules {
		r.MasterEventID = series.ID
		r.ID, err = utils.InsertAndFetchId(ctx, tx, utils.BuildInsertStmtWithout(s.db, r, "id"), r)
		if err != nil {
			return errors.Wrapf(err, "can't insert recurrence rule of series %d", series.ID)
		}
	}

	for _, e := range exceptions {
		e.MasterEventID = series.ID
		e.ID, err = utils.InsertAndFetchId(ctx, tx, utils.BuildInsertStmtWithout(s.db, e, "id"), e)
		if err != nil {
			return errors.Wrapf(err, "can't insert exception of series %d", series.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "can't commit transaction")
}

// Occurrences returns the materialized occurrences of a series ordered by their start time.
func (s *Store) Occurrences(ctx context.Context, masterEventID int64) ([]*calendar.Occurrence, error) {
	stmt := s.db.Rebind(s.db.BuildSelectStmt(&calendar.Occurrence{}, &calendar.Occurrence{}) +
		` WHERE "master_event_id" = ? ORDER BY "start_time", "original_start"`)

	var occurrences []*calendar.Occurrence
	if err := s.db.SelectContext(ctx, &occurrences, stmt, masterEventID); err != nil {
		return nil, errors.Wrapf(err, "can't select occurrences of series %d", masterEventID)
	}

	return occurrences, nil
}

// Tx implements contracts.Tx within a single database transaction.
type Tx struct {
	db *icingadb.DB
	tx *sqlx.Tx
}

// Rules implements the contracts.Tx interface.
func (t *Tx) Rules(ctx context.Context, masterEventID int64) ([]*calendar.Recurrence, error) {
	stmt := t.db.Rebind(t.db.BuildSelectStmt(&calendar.Recurrence{}, &calendar.Recurrence{}) +
		` WHERE "master_event_id" = ? ORDER BY "id"`)

	var rules []*calendar.Recurrence
	if err := t.tx.SelectContext(ctx, &rules, stmt, masterEventID); err != nil {
		return nil, errors.Wrapf(err, "can't select recurrence rules of series %d", masterEventID)
	}

	return rules, nil
}

// ExceptionByOriginalStart implements the contracts.Tx interface.
func (t *Tx) ExceptionByOriginalStart(
	ctx context.Context, masterEventID int64, originalStart time.Time,
) (*calendar.Exception, error) {
	stmt := t.db.Rebind(t.db.BuildSelectStmt(&calendar.Exception{}, &calendar.Exception{}) +
		` WHERE "master_event_id" = ? AND "original_start" = ?`)

	e := &calendar.Exception{}
	err := t.tx.GetContext(ctx, e, stmt, masterEventID, types.UnixMilli(originalStart))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "can't select exception of series %d", masterEventID)
	}

	return e, nil
}

// InsertOccurrence implements the contracts.Tx interface.
func (t *Tx) InsertOccurrence(ctx context.Context, o *calendar.Occurrence) (bool, error) {
	result, err := t.tx.NamedExecContext(ctx, utils.BuildInsertIgnoreStmt(t.db, o), o)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "can't fetch affected rows")
	}

	return affected > 0, nil
}

// UpdateWatermark implements the contracts.Tx interface.
func (t *Tx) UpdateWatermark(ctx context.Context, masterEventID int64, watermark time.Time) error {
	stmt := t.db.Rebind(`UPDATE "master_event" SET "recurrences_generated_until" = ? WHERE "id" = ?`)
	if _, err := t.tx.ExecContext(ctx, stmt, types.UnixMilli(watermark), masterEventID); err != nil {
		return errors.Wrapf(err, "can't update watermark of series %d", masterEventID)
	}

	return nil
}

// UpdateCursor implements the contracts.Tx interface.
func (t *Tx) UpdateCursor(ctx context.Context, c *calendar.RecurrenceCursor) error {
	if _, err := t.tx.NamedExecContext(ctx, utils.BuildUpdateStmt(t.db, c, "id"), c); err != nil {
		return errors.Wrapf(err, "can't update cursor of recurrence rule %d", c.RecurrenceID)
	}

	return nil
}

func getSeries(ctx context.Context, db *icingadb.DB, q sqlx.QueryerContext, id int64) (*calendar.MasterEvent, error) {
	stmt := db.Rebind(db.BuildSelectStmt(&calendar.MasterEvent{}, &calendar.MasterEvent{}) + ` WHERE "id" = ?`)

	series := &calendar.MasterEvent{}
	err := sqlx.GetContext(ctx, q, series, stmt, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, calendar.ErrSeriesNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "can't select series %d", id)
	}

	return series, nil
}

// Assert interface compliance.
var (
	_ contracts.Store = (*Store)(nil)
	_ contracts.Tx    = (*Tx)(nil)
)
