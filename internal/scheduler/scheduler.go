package scheduler

import (
	"context"
	"github.com/icinga/icinga-calendar/internal/expansion"
	"github.com/icinga/icingadb/pkg/logging"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"time"
)

// Expander runs a single expansion pass over all series.
type Expander interface {
	ExpandAll(ctx context.Context, now time.Time) (expansion.Stats, error)
}

// Scheduler runs expansion passes periodically according to a cron spec.
type Scheduler struct {
	spec     string
	expander Expander
	logger   *logging.Logger
	cron     *cron.Cron
}

// New creates a Scheduler for the cron spec, which also accepts descriptors like "@every 15m".
//
// Passes are run in UTC and skipped while the previous one is still running.
func New(spec string, expander Expander, logger *logging.Logger) *Scheduler {
	l := cronLogger{logger}

	return &Scheduler{
		spec:     spec,
		expander: expander,
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// Run performs an expansion pass immediately and then according to the schedule until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.spec)
	if err != nil {
		return errors.Wrapf(err, "invalid expansion schedule %q", s.spec)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() { s.expand(ctx) }))

	s.expand(ctx)

	s.cron.Start()
	s.logger.Infow("Started expansion scheduler", zap.String("schedule", s.spec))

	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.logger.Info("Stopped expansion scheduler")

	return nil
}

func (s *Scheduler) expand(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := s.expander.ExpandAll(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Errorw("Expansion pass failed", zap.Error(err))
	}
}

// cronLogger adapts a logging.Logger to the cron.Logger interface.
type cronLogger struct {
	logger *logging.Logger
}

// Info implements the cron.Logger interface.
//
// cron logs every scheduling decision at info level, which is too chatty besides debugging.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

// Error implements the cron.Logger interface.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, zap.Error(err))...)
}

// Assert interface compliance.
var _ cron.Logger = cronLogger{}
