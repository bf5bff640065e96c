// Package settings loads process settings for the toolgraph server and CLI.
//
// Values are layered, later sources winning:
//  1. Built-in defaults
//  2. An optional YAML or JSON settings file (lower-case keys)
//  3. Variables from an optional .env file
//  4. Process environment variables
package settings

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/config"
)

// Environment variable names.
const (
	EnvAppName           = "APP_NAME"
	EnvDebug             = "DEBUG"
	EnvDatabaseURL       = "DATABASE_URL"
	EnvMaxLoopIterations = "MAX_LOOP_ITERATIONS"
	EnvHost              = "HOST"
	EnvPort              = "PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
	EnvMaxConcurrentRuns = "MAX_CONCURRENT_RUNS"
	EnvWorkflowsDir      = "WORKFLOWS_DIR"
	EnvShutdownTimeout   = "SHUTDOWN_TIMEOUT"
)

var envKeys = []string{
	EnvAppName, EnvDebug, EnvDatabaseURL, EnvMaxLoopIterations, EnvHost, EnvPort,
	EnvLogLevel, EnvLogFormat, EnvMaxConcurrentRuns, EnvWorkflowsDir, EnvShutdownTimeout,
}

// Settings holds the process configuration.
type Settings struct {
	AppName string `validate:"required"`
	Debug   bool

	// DatabaseURL selects the store: empty for in-memory, postgres:// or
	// postgresql:// for Postgres, anything else is a SQLite path
	// (an optional sqlite:// prefix is stripped).
	DatabaseURL string

	MaxLoopIterations int `validate:"min=1,max=100"`

	Host string `validate:"required"`
	Port int    `validate:"min=1000,max=65535"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	MaxConcurrentRuns int `validate:"min=1"`
	WorkflowsDir      string
	ShutdownTimeout   time.Duration `validate:"min=0"`
}

// Default returns the built-in defaults.
func Default() Settings {
	return Settings{
		AppName:           "toolgraph",
		MaxLoopIterations: 15,
		Host:              "0.0.0.0",
		Port:              8000,
		LogLevel:          "info",
		LogFormat:         "text",
		MaxConcurrentRuns: 8,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Options selects the files Load reads.
type Options struct {
	// EnvFile is a dotenv file. A missing file is ignored unless
	// RequireEnvFile is set.
	EnvFile        string
	RequireEnvFile bool

	// ConfigFile is an optional .yaml, .yml or .json settings file.
	ConfigFile string
}

// Load reads settings from the configured sources and validates them.
func Load(opts Options) (*Settings, error) {
	if opts.EnvFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(opts.EnvFile); err != nil {
			if opts.RequireEnvFile || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
			}
		}
	}

	layered := config.New(nil)
	if opts.ConfigFile != "" {
		file, err := config.FromFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		layered = file
	}
	layered = layered.Merge(config.FromEnv(envKeys...))

	return FromConfig(layered)
}

// FromConfig builds settings from lower-case keys laid over the defaults.
func FromConfig(c config.Config) (*Settings, error) {
	d := Default()
	s := &Settings{
		AppName:           c.String(key(EnvAppName), d.AppName),
		Debug:             c.Bool(key(EnvDebug), d.Debug),
		DatabaseURL:       c.String(key(EnvDatabaseURL), d.DatabaseURL),
		MaxLoopIterations: c.Int(key(EnvMaxLoopIterations), d.MaxLoopIterations),
		Host:              c.String(key(EnvHost), d.Host),
		Port:              c.Int(key(EnvPort), d.Port),
		LogLevel:          strings.ToLower(c.String(key(EnvLogLevel), d.LogLevel)),
		LogFormat:         strings.ToLower(c.String(key(EnvLogFormat), d.LogFormat)),
		MaxConcurrentRuns: c.Int(key(EnvMaxConcurrentRuns), d.MaxConcurrentRuns),
		WorkflowsDir:      c.String(key(EnvWorkflowsDir), d.WorkflowsDir),
		ShutdownTimeout:   c.Duration(key(EnvShutdownTimeout), d.ShutdownTimeout),
	}
	if s.Debug && !c.Has(key(EnvLogLevel)) {
		s.LogLevel = "debug"
	}

	// Malformed integers are errors, not defaults.
	for _, name := range []string{EnvMaxLoopIterations, EnvPort, EnvMaxConcurrentRuns} {
		if raw, ok := c.Raw()[key(name)].(string); ok {
			if _, err := strconv.Atoi(raw); err != nil {
				return nil, fmt.Errorf("invalid settings: %s: %q is not an integer", name, raw)
			}
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func key(env string) string {
	return strings.ToLower(env)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Logger builds a slog logger writing to w with the configured level and format.
func (s *Settings) Logger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(s.LogLevel)}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
