// Package config loads CLI settings: built-in defaults, then an optional ini
// file, then SAVETPL_* environment variables. Command-line flags are applied
// last by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/ini.v1"
)

// Config holds the settings shared by every command.
type Config struct {
	// TemplateDir is searched for templates given by bare name.
	TemplateDir string `ini:"template_dir" env:"SAVETPL_TEMPLATE_DIR"`

	// Hooks is a Lua override module loaded with every template.
	Hooks string `ini:"hooks" env:"SAVETPL_HOOKS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `ini:"log_level" env:"SAVETPL_LOG_LEVEL"`

	// LogFormat is text or json.
	LogFormat string `ini:"log_format" env:"SAVETPL_LOG_FORMAT"`

	// Journal is the SQLite edit journal; empty disables it.
	Journal string `ini:"journal" env:"SAVETPL_JOURNAL"`

	// Backup keeps a .bak copy when a save is overwritten.
	Backup bool `ini:"backup" env:"SAVETPL_BACKUP"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		TemplateDir: "templates",
		LogLevel:    "warn",
		LogFormat:   "text",
		Backup:      true,
	}
}

// Load returns the defaults overlaid by the ini file at path (skipped when
// path is empty or missing) and by the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadINI(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.Validate()
}

func loadINI(path string, cfg *Config) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := f.Section("").MapTo(cfg); err != nil {
		return fmt.Errorf("map %s: %w", path, err)
	}

	return nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
		return nil
	}

	return fmt.Errorf("config: unknown log format %q", c.LogFormat)
}

// ParseLevel maps a level name to slog.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", name)
}

// NewLogger builds the logger described by the settings.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
