package expansion

import (
	"context"
	"github.com/google/uuid"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/contracts"
	"github.com/icinga/icinga-calendar/internal/recurrence"
	"github.com/icinga/icinga-calendar/internal/utils"
	"github.com/icinga/icingadb/pkg/logging"
	"github.com/icinga/icingadb/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
	"sync"
	"time"
)

// Options configures the Expander.
type Options struct {
	// HorizonMonths is how many calendar months ahead of now occurrences are materialized.
	HorizonMonths int `yaml:"horizon-months" default:"3"`
}

// Validate checks constraints in the supplied expansion options and returns an error if they are violated.
func (o *Options) Validate() error {
	if o.HorizonMonths < 1 {
		return errors.Errorf("horizon-months must be at least 1, got %d", o.HorizonMonths)
	}

	return nil
}

// Stats summarizes the work of an expansion.
type Stats struct {
	Series       int `json:"series"`
	Failed       int `json:"failed"`
	Inserted     int `json:"inserted"`
	Duplicates   int `json:"duplicates"`
	Suppressed   int `json:"suppressed"`
	SkippedRules int `json:"skipped_rules"`
}

func (s *Stats) add(o Stats) {
	s.Series += o.Series
	s.Failed += o.Failed
	s.Inserted += o.Inserted
	s.Duplicates += o.Duplicates
	s.Suppressed += o.Suppressed
	s.SkippedRules += o.SkippedRules
}

// MarshalLogObject implements the zapcore.ObjectMarshaler interface.
func (s *Stats) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt("series", s.Series)
	encoder.AddInt("failed", s.Failed)
	encoder.AddInt("inserted", s.Inserted)
	encoder.AddInt("duplicates", s.Duplicates)
	encoder.AddInt("suppressed", s.Suppressed)
	encoder.AddInt("skipped_rules", s.SkippedRules)
	return nil
}

// Expander materializes the occurrences of all series in a contracts.Store up to a rolling horizon.
//
// Each series is expanded within its own transaction, so that its occurrences, rule cursors and watermark are
// written together. Passes are serialized.
type Expander struct {
	store   contracts.Store
	logger  *logging.Logger
	options Options

	mu sync.Mutex
}

// NewExpander creates a new Expander working on store.
func NewExpander(store contracts.Store, logger *logging.Logger, options Options) *Expander {
	return &Expander{store: store, logger: logger, options: options}
}

// Horizon returns the instant up to which occurrences are materialized by a pass at now.
func (e *Expander) Horizon(now time.Time) time.Time {
	months := e.options.HorizonMonths
	if months < 1 {
		months = 3
	}

	return now.UTC().AddDate(0, months, 0)
}

// ExpandAll expands every series whose watermark is before the horizon of now.
//
// Failures of single series are logged and counted, the pass continues with the next series. An error is only
// returned if the series due for expansion can't be determined or ctx is canceled.
func (e *Expander) ExpandAll(ctx context.Context, now time.Time) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	startedAt := time.Now()
	horizon := e.Horizon(now)
	logger := e.logger.With(zap.String("pass", uuid.NewString()))

	var stats Stats
	due, err := e.store.DueForExpansion(ctx, horizon)
	if err != nil {
		return stats, errors.Wrap(err, "can't query series due for expansion")
	}

	logger.Debugw("Starting expansion pass", zap.Time("horizon", horizon), zap.Int("due", len(due)))

	for _, series := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		s, err := e.expandSeries(ctx, logger.With(zap.Int64("series", series.ID)), series, horizon)
		if err != nil {
			stats.Failed++
			logger.Errorw("Failed to expand series", zap.Inline(series), zap.Error(err))
			continue
		}

		stats.add(s)
	}

	logger.Infow("Finished expansion pass",
		zap.Inline(&stats), zap.Time("horizon", horizon), zap.Duration("took", time.Since(startedAt)))

	return stats, nil
}

// ExpandOne regenerates all occurrences of a single series, e.g. after it was edited.
//
// The series' occurrences, rule cursors and watermark are reset first.
func (e *Expander) ExpandOne(ctx context.Context, id int64, now time.Time) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	horizon := e.Horizon(now)
	logger := e.logger.With(zap.String("pass", uuid.NewString()), zap.Int64("series", id))

	if err := e.store.ResetSeries(ctx, id); err != nil {
		return Stats{}, errors.Wrapf(err, "can't reset series %d", id)
	}

	series, err := e.store.Series(ctx, id)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "can't load series %d", id)
	}

	stats, err := e.expandSeries(ctx, logger, series, horizon)
	if err != nil {
		return stats, errors.Wrapf(err, "can't expand series %d", id)
	}

	logger.Infow("Regenerated series", zap.Inline(&stats), zap.Time("horizon", horizon))

	return stats, nil
}

// expandSeries materializes the occurrences of series between its watermark and horizon in a single transaction.
func (e *Expander) expandSeries(
	ctx context.Context, logger *zap.SugaredLogger, series *calendar.MasterEvent, horizon time.Time,
) (Stats, error) {
	var stats Stats
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx contracts.Tx) error {
		// The transaction may be retried, so start counting from scratch.
		stats = Stats{Series: 1}
		m := &materializer{tx: tx, series: series, logger: logger, stats: &stats}

		rules, err := tx.Rules(ctx, series.ID)
		if err != nil {
			return errors.Wrap(err, "can't load recurrence rules")
		}

		var watermark time.Time
		if len(rules) == 0 {
			watermark, err = expandSingle(ctx, m)
		} else {
			watermark, err = expandRules(ctx, m, rules, horizon)
		}
		if err != nil {
			return err
		}

		if old := series.Watermark(); watermark.Before(old) {
			watermark = old
		}

		logger.Debugw("Expanded series", zap.Inline(series), zap.Time("watermark", watermark), zap.Inline(&stats))

		return tx.UpdateWatermark(ctx, series.ID, watermark)
	})

	return stats, err
}

// expandSingle materializes a series without any recurrence rules and returns calendar.Exhausted.
//
// An all-day series gets one occurrence per day, starting at its start time for every day up to its end time.
func expandSingle(ctx context.Context, m *materializer) (time.Time, error) {
	start, end := m.series.Start(), m.series.End()
	resumeAfter := m.series.Watermark()
	emit := m.emit(ctx)

	if !m.series.AllDay {
		if resumeAfter.IsZero() || start.After(resumeAfter) {
			if err := emit(start, end); err != nil {
				return time.Time{}, err
			}
		}

		return calendar.Exhausted, nil
	}

	// All-day ends are exclusive midnights, so an end at midnight does not add a day of its own.
	for day := start; day.Before(end) || day.Equal(start); day = day.AddDate(0, 0, 1) {
		if !resumeAfter.IsZero() && !day.After(resumeAfter) {
			continue
		}

		dayEnd := day.AddDate(0, 0, 1)
		if dayEnd.After(end) && end.After(day) {
			dayEnd = end
		}

		if err := emit(day, dayEnd); err != nil {
			return time.Time{}, err
		}
	}

	return calendar.Exhausted, nil
}

// expandRules runs the generators of all rules of a series and returns its new watermark.
//
// The watermark is the earliest last computed occurrence of all rules that are not exhausted, capped at horizon.
// If every rule is exhausted or invalid, it is calendar.Exhausted.
func expandRules(ctx context.Context, m *materializer, rules []*calendar.Recurrence, horizon time.Time) (time.Time, error) {
	slices.SortFunc(rules, func(a, b *calendar.Recurrence) bool {
		return a.ID < b.ID
	})

	resumeAfter := m.series.Watermark()
	series := recurrence.Series{ID: m.series.ID, Start: m.series.Start(), End: m.series.End()}
	watermark := calendar.Exhausted

	for _, r := range rules {
		rule, inconsistencies, err := recurrence.Decode(r, series.Start)
		if err != nil {
			m.stats.SkippedRules++
			m.logger.Errorw("Skipping invalid recurrence rule", zap.Inline(r), zap.Error(err))
			continue
		}

		for _, inconsistency := range inconsistencies {
			m.logger.Errorw("Recurrence rule is inconsistent with its series, using the rule's fields",
				zap.Inline(r), zap.String("inconsistency", inconsistency))
		}

		cursor, err := recurrence.Generate(series, rule, resumeAfter, horizon, cursorOf(r), m.emit(ctx))
		if err != nil {
			if errors.Is(err, recurrence.ErrInvalidRule) || errors.Is(err, recurrence.ErrUnsupportedRule) {
				m.stats.SkippedRules++
				m.logger.Errorw("Skipping invalid recurrence rule", zap.Inline(r), zap.Error(err))
				continue
			}

			return time.Time{}, errors.Wrapf(err, "can't expand recurrence rule %d", r.ID)
		}

		m.logger.Debugw("Expanded recurrence rule",
			zap.Inline(rule), zap.String("rrule", rule.RRuleString(series.Start)),
			zap.Time("last", cursor.Last), zap.Bool("exhausted", cursor.Exhausted))

		if err := m.tx.UpdateCursor(ctx, cursorRow(r.ID, cursor)); err != nil {
			return time.Time{}, errors.Wrapf(err, "can't update cursor of recurrence rule %d", r.ID)
		}

		if !cursor.Exhausted && cursor.Last.Before(watermark) {
			watermark = cursor.Last
		}
	}

	if !calendar.IsExhausted(watermark) && watermark.After(horizon) {
		watermark = horizon
	}

	return watermark, nil
}

// cursorOf returns the stored generator cursor of r, nil if there is none.
func cursorOf(r *calendar.Recurrence) *recurrence.Cursor {
	if !r.CursorStep.Valid || !r.CursorCount.Valid {
		return nil
	}

	c := &recurrence.Cursor{
		Step:      int(r.CursorStep.Int64),
		Slot:      int(r.CursorSlot.Int64),
		Count:     int(r.CursorCount.Int64),
		Exhausted: r.CursorExhausted,
	}
	if last := r.CursorLast.Time(); !last.IsZero() {
		c.Last = last.UTC()
	}

	return c
}

func cursorRow(id int64, c recurrence.Cursor) *calendar.RecurrenceCursor {
	return &calendar.RecurrenceCursor{
		RecurrenceID:    id,
		CursorStep:      utils.ToDBIntAlways(int64(c.Step)),
		CursorSlot:      utils.ToDBIntAlways(int64(c.Slot)),
		CursorCount:     utils.ToDBIntAlways(int64(c.Count)),
		CursorLast:      types.UnixMilli(c.Last),
		CursorExhausted: c.Exhausted,
	}
}
