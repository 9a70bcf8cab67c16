package sqlift

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSavepointPrefix names the savepoints issued by Begin.
const DefaultSavepointPrefix = "sqlift"

// Config describes how a Connection opens its database.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string
	// Create allows Open to create a missing database file.
	Create bool
	// BusyTimeout in milliseconds; zero leaves the engine default (fail immediately on a lock).
	BusyTimeout int
	// Location interprets timestamps read back from cells. Defaults to time.Local.
	Location *time.Location
	// SavepointPrefix is the stem of generated savepoint names.
	SavepointPrefix string
	// Logger receives bind, transaction and close failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option adjusts a Config.
type Option func(*Config)

func WithCreate(create bool) Option {
	return func(c *Config) {
		c.Create = create
	}
}

func WithBusyTimeout(ms int) Option {
	return func(c *Config) {
		c.BusyTimeout = ms
	}
}

func WithLocation(loc *time.Location) Option {
	return func(c *Config) {
		c.Location = loc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithSavepointPrefix(prefix string) Option {
	return func(c *Config) {
		c.SavepointPrefix = prefix
	}
}

// ParseDSN supports format: <path>[?mode=rw|rwc&_busy_timeout=<ms>&_loc=UTC|Local|<IANA name>&savepoint=<prefix>]
func ParseDSN(dsn string, opts ...Option) (Config, error) {
	config := Config{Path: dsn}
	if qMark := strings.IndexByte(dsn, '?'); qMark >= 0 {
		config.Path = dsn[:qMark]
		vals, err := url.ParseQuery(dsn[qMark+1:])
		if err != nil {
			return Config{}, fmt.Errorf("sqlift: parse dsn: %w", err)
		}
		switch mode := vals.Get("mode"); mode {
		case "", "rw":
		case "rwc":
			config.Create = true
		default:
			return Config{}, fmt.Errorf("sqlift: unsupported mode %q", mode)
		}
		if v := vals.Get("_busy_timeout"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms < 0 {
				return Config{}, fmt.Errorf("sqlift: invalid _busy_timeout %q", v)
			}
			config.BusyTimeout = ms
		}
		if v := vals.Get("_loc"); v != "" {
			loc, err := parseLocation(v)
			if err != nil {
				return Config{}, err
			}
			config.Location = loc
		}
		if v := vals.Get("savepoint"); v != "" {
			config.SavepointPrefix = v
		}
	}
	for _, opt := range opts {
		opt(&config)
	}
	return config, nil
}

func parseLocation(name string) (*time.Location, error) {
	switch strings.ToLower(name) {
	case "utc":
		return time.UTC, nil
	case "local", "auto":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("sqlift: invalid _loc %q: %w", name, err)
	}
	return loc, nil
}

func (c Config) openFlags() SqliteOpenFlags {
	flags := SQLITE_OPEN_READWRITE
	if c.Create {
		flags |= SQLITE_OPEN_CREATE
	}
	return flags
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c Config) savepointPrefix() string {
	if c.SavepointPrefix == "" {
		return DefaultSavepointPrefix
	}
	return c.SavepointPrefix
}
