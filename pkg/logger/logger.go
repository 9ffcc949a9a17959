// Package logger wraps logrus with the configuration knobs used across the
// service layer.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
	"github.com/sirupsen/logrus"
)

const (
	rotateThresholdKB = 10 * 1024
	rotateMaxRolls    = 5
)

// LoggingConfig controls log level, format and destination.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger is a logrus logger that optionally owns a rotating log file.
type Logger struct {
	*logrus.Logger
	rotator *rotator.Rotator
}

// New builds a logger from configuration. Invalid levels fall back to info;
// a file output that cannot be opened falls back to stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l := &Logger{Logger: base}
	base.SetOutput(os.Stdout)
	if strings.EqualFold(strings.TrimSpace(cfg.Output), "file") {
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "provenance"
		}
		if r, err := openRotator(prefix); err != nil {
			base.WithError(err).Warn("log file unavailable; logging to stdout")
		} else {
			l.rotator = r
			base.SetOutput(io.MultiWriter(os.Stdout, r))
		}
	}
	return l
}

// NewDefault returns an info-level text logger tagged with a component name.
func NewDefault(name string) *Logger {
	l := New(LoggingConfig{Level: "info"})
	if name != "" {
		l.AddHook(componentHook(name))
	}
	return l
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

// Close flushes and closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

func openRotator(prefix string) (*rotator.Rotator, error) {
	dir := filepath.Dir(prefix)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return rotator.New(prefix+".log", rotateThresholdKB, false, rotateMaxRolls)
}

type componentHook string

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = string(h)
	}
	return nil
}
