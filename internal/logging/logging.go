// Package logging builds the process zap logger from the logging section of
// the configuration.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/constants"
)

// EnvLevel overrides logging.level when set.
const EnvLevel = "WARP_LOG_LEVEL"

// Settings describe the logger outputs.
type Settings struct {
	Level  string
	File   string
	Format string
	// Stderr mirrors log lines to standard error in addition to File.
	Stderr bool
}

// FromConfig reads logging.level, logging.file and logging.format. A
// non-empty override (the --log-level flag) wins over the environment, which
// wins over the file.
func FromConfig(cfg *config.Store, override string, getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := Settings{
		Level:  cfg.GetString("logging.level", "info"),
		File:   cfg.GetString("logging.file", constants.DefaultLogFile),
		Format: cfg.GetString("logging.format", "console"),
		Stderr: cfg.GetBool("logging.console", true),
	}
	if env := strings.TrimSpace(getenv(EnvLevel)); env != "" {
		s.Level = env
	}
	if override = strings.TrimSpace(override); override != "" {
		s.Level = override
	}
	if s.File != "" {
		s.File = config.ExpandPath(s.File)
	}
	return s
}

// ParseLevel accepts zap level names plus the aliases "warning" and
// "critical".
func ParseLevel(text string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "critical":
		return zapcore.ErrorLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", text)
	}
	return level, nil
}

// New builds a logger writing to the configured outputs. The log file's
// parent directory is created when missing.
func New(s Settings) (*zap.Logger, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(strings.TrimSpace(s.Format))
	switch encoding {
	case "", "console", "text":
		encoding = "console"
	case "json":
	default:
		return nil, fmt.Errorf("logging: unknown format %q", s.Format)
	}

	var outputs []string
	if s.Stderr {
		outputs = append(outputs, "stderr")
	}
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log directory: %w", err)
		}
		outputs = append(outputs, s.File)
	}
	if len(outputs) == 0 {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = encoding
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.Sampling = nil
	cfg.OutputPaths = outputs
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}
