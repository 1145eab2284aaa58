package daemon

import (
	"github.com/creasty/defaults"
	"github.com/goccy/go-yaml"
	"github.com/icinga/icinga-calendar/internal/expansion"
	"github.com/icinga/icingadb/pkg/config"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"os"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

type ConfigFile struct {
	Listen        string          `yaml:"listen" default:"localhost:5690"`
	DebugPassword string          `yaml:"debug-password"`
	Database      config.Database `yaml:"database"`
	SQLite        SQLite          `yaml:"sqlite"`
	Logging       config.Logging  `yaml:"logging"`
	Expansion     Expansion       `yaml:"expansion"`
}

// SQLite configures an embedded SQLite database, which is used instead of Database if Path is set.
type SQLite struct {
	Path string `yaml:"path"`
}

// Expansion configures the periodic expansion of all series.
type Expansion struct {
	expansion.Options `yaml:",inline"`

	// Schedule is a cron spec, e.g. "@every 15m" or "*/5 * * * *".
	Schedule string `yaml:"schedule" default:"@every 15m"`
}

// FromFile loads the YAML config file at path on top of the defaults and validates it.
func FromFile(path string) (*ConfigFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't open config file")
	}
	defer func() { _ = f.Close() }()

	c := &ConfigFile{}
	if err := defaults.Set(c); err != nil {
		return nil, errors.Wrap(err, "can't set config defaults")
	}

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return nil, errors.Wrapf(err, "can't parse config file %q", path)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return c, nil
}

// Validate checks the entire daemon configuration on daemon startup.
func (c *ConfigFile) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address missing")
	}

	if c.SQLite.Path == "" {
		if err := c.Database.Validate(); err != nil {
			return err
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	return c.Expansion.Validate()
}

// Validate checks the expansion options and the cron spec.
func (e *Expansion) Validate() error {
	if err := e.Options.Validate(); err != nil {
		return err
	}

	if _, err := cron.ParseStandard(e.Schedule); err != nil {
		return errors.Wrapf(err, "invalid expansion schedule %q", e.Schedule)
	}

	return nil
}

// Flags defines the CLI flags supported by the Icinga Calendar daemon.
type Flags struct {
	// Version decides whether to just print the version and exit.
	Version bool `long:"version" description:"print version and exit"`
	// Config is the path to the config file.
	Config string `short:"c" long:"config" description:"path to config file" default:"/etc/icinga-calendar/config.yml"`
	// Once runs a single expansion pass over all series instead of starting the daemon.
	Once bool `long:"once" description:"run a single expansion pass and exit"`
	// Series regenerates all occurrences of a single series instead of starting the daemon.
	Series int64 `long:"series" value-name:"ID" description:"regenerate the occurrences of a series and exit"`
}

// ParseFlags parses the command line arguments, excluding the program name.
//
// Errors are not printed, which is left to the caller.
// If --help was requested, the returned error is a *flags.Error of type flags.ErrHelp.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	parser := flags.NewParser(f, flags.HelpFlag|flags.PassDoubleDash)

	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if len(rest) > 0 {
		return nil, errors.Errorf("unexpected arguments: %v", rest)
	}

	if f.Once && f.Series != 0 {
		return nil, errors.New("--once and --series are mutually exclusive")
	}

	if f.Series < 0 {
		return nil, errors.Errorf("invalid series ID %d", f.Series)
	}

	return f, nil
}

// IsHelp reports whether err was returned by ParseFlags because --help was given.
func IsHelp(err error) bool {
	var flagsErr *flags.Error
	return errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp
}
