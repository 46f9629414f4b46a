// Package logger builds the process logger: leveled zerolog output to the console
// and/or a rotating file, with secrets scrubbed before they are written.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level   string `mapstructure:"level" yaml:"level" json:"level"` // debug, info, warn, error
	Console bool   `mapstructure:"console" yaml:"console" json:"console"`
	Pretty  bool   `mapstructure:"pretty" yaml:"pretty" json:"pretty"`
	File    string `mapstructure:"file" yaml:"file" json:"file"`

	// Redaction scrubs API keys, tokens and passwords from every line.
	Redaction      bool     `mapstructure:"redaction" yaml:"redaction" json:"redaction"`
	RedactPatterns []string `mapstructure:"redact_patterns" yaml:"redact_patterns" json:"redact_patterns"`

	// MaxSizeMB rotates File once it grows past this size. 0 disables rotation.
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress" json:"compress"`

	// Output replaces stdout as the console destination. Used by tests.
	Output io.Writer `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig returns default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		Pretty:     true,
		Redaction:  true,
		MaxSizeMB:  100,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Logger is the root zerolog.Logger plus the resources behind it.
type Logger struct {
	zerolog.Logger

	redactor *Redactor
	closers  []io.Closer
}

// New creates a logger and installs it as the zerolog global.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	var writers []io.Writer

	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		writers = append(writers, out)
	}

	if cfg.File != "" {
		fw, err := openFile(cfg)
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, fw)
		writers = append(writers, fw)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, pattern := range cfg.RedactPatterns {
			if err := l.redactor.AddPattern(pattern); err != nil {
				l.Close()
				return nil, fmt.Errorf("invalid redact pattern %q: %w", pattern, err)
			}
		}
		writer = l.redactor.Wrap(writer)
	}

	l.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = l.Logger

	return l, nil
}

func openFile(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSizeMB > 0 {
		return NewRotatingWriter(RotationConfig{
			Filename:     cfg.File,
			MaxSizeBytes: int64(cfg.MaxSizeMB) * 1024 * 1024,
			MaxAgeDays:   cfg.MaxAgeDays,
			Compress:     cfg.Compress,
		})
	}
	return NewRotatingWriter(RotationConfig{Filename: cfg.File})
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Redactor returns the redactor in use, or nil when redaction is off.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// Close releases open log files.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	l.closers = nil
	return errors.Join(errs...)
}
