package main

import (
	"context"
	"fmt"
	"github.com/icinga/icinga-calendar/internal"
	"github.com/icinga/icinga-calendar/internal/daemon"
	"github.com/icinga/icinga-calendar/internal/expansion"
	"github.com/icinga/icinga-calendar/internal/listener"
	"github.com/icinga/icinga-calendar/internal/scheduler"
	"github.com/icinga/icinga-calendar/internal/store"
	"github.com/icinga/icingadb/pkg/icingadb"
	"github.com/icinga/icingadb/pkg/logging"
	"github.com/icinga/icingadb/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	flags, err := daemon.ParseFlags(os.Args[1:])
	if daemon.IsHelp(err) {
		fmt.Println(err)
		os.Exit(daemon.ExitSuccess)
	} else if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(daemon.ExitFailure)
	}

	if flags.Version {
		internal.Version.Print("Icinga Calendar")
		os.Exit(daemon.ExitSuccess)
	}

	conf, err := daemon.FromFile(flags.Config)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "cannot load config:", err)
		os.Exit(daemon.ExitFailure)
	}

	logs, err := logging.NewLogging(
		"icinga-calendar",
		conf.Logging.Level,
		conf.Logging.Output,
		conf.Logging.Options,
		conf.Logging.Interval,
	)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "cannot initialize logging:", err)
		os.Exit(daemon.ExitFailure)
	}

	logger := logs.GetLogger()
	logger.Infof("Starting Icinga Calendar daemon (%s)", internal.Version.Version)

	db, err := openDatabase(conf, logs.GetChildLogger("database"), logger)
	if err != nil {
		logger.Fatalw("Can't connect to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	expander := expansion.NewExpander(
		store.New(db, logs.GetChildLogger("store")), logs.GetChildLogger("expansion"), conf.Expansion.Options)

	switch {
	case flags.Once:
		if _, err := expander.ExpandAll(ctx, time.Now()); err != nil {
			logger.Fatalw("Expansion pass failed", zap.Error(err))
		}
		return
	case flags.Series != 0:
		if _, err := expander.ExpandOne(ctx, flags.Series, time.Now()); err != nil {
			logger.Fatalw("Can't regenerate series", zap.Int64("series", flags.Series), zap.Error(err))
		}
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.New(conf.Expansion.Schedule, expander, logs.GetChildLogger("scheduler")).Run(ctx)
	})
	g.Go(func() error {
		return listener.NewListener(conf.Listen, conf.DebugPassword, expander, logs.GetChildLogger("listener")).Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorw("Icinga Calendar daemon has finished with an error", zap.Error(err))
		os.Exit(daemon.ExitFailure)
	}

	logger.Info("Icinga Calendar daemon has finished")
}

// openDatabase connects to the embedded SQLite database if configured, otherwise to MySQL or PostgreSQL.
func openDatabase(conf *daemon.ConfigFile, dbLogger, logger *logging.Logger) (*icingadb.DB, error) {
	if conf.SQLite.Path != "" {
		logger.Infof("Opening SQLite database %q", conf.SQLite.Path)
		return store.OpenSQLite(conf.SQLite.Path, dbLogger)
	}

	db, err := conf.Database.Open(dbLogger)
	if err != nil {
		return nil, err
	}

	logger.Infof("Connecting to database at '%s'", utils.JoinHostPort(conf.Database.Host, conf.Database.Port))
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
