// Package logger builds the process logger: charm's text renderer for terminals and one JSON
// object per line for files and collectors. Access keys and tokens are masked in both.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"archcritic/pkg/config"
)

const (
	envLevel     = "ARCHCRITIC_LOG_LEVEL"
	envFormat    = "ARCHCRITIC_LOG_FORMAT"
	envAddSource = "ARCHCRITIC_LOG_ADD_SOURCE"

	formatText = "text"
	formatJSON = "json"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// settings is the logging config after environment overrides.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger. The returned closer releases a log file opened for
// logging.output and is a no-op for the standard streams.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, nil, err
	}

	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	return slog.New(s.handler(writer)), closer, nil
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	return slog.New(s.handler(writer)), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	format := strings.ToLower(firstSet(os.Getenv(envFormat), cfg.Format, formatText))
	if format != formatText && format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	levelName := strings.ToLower(firstSet(os.Getenv(envLevel), cfg.Level, "info"))
	level, ok := levelNames[levelName]
	if !ok {
		return settings{}, fmt.Errorf("unsupported log level %q", levelName)
	}

	addSource := cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envAddSource)); env != "" {
		switch strings.ToLower(env) {
		case "1", "true", "yes", "on":
			addSource = true
		default:
			addSource = false
		}
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

func (s settings) handler(writer io.Writer) slog.Handler {
	if s.format == formatJSON {
		return redactHandler{next: newJSONHandler(writer, s.level, s.addSource)}
	}

	// charm levels share slog's numeric values.
	return redactHandler{next: charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLog.Level(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       charmLog.TextFormatter,
	})}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(output string) (io.Writer, io.Closer, error) {
	target := strings.TrimSpace(output)
	switch strings.ToLower(target) {
	case "", "stderr":
		return os.Stderr, nopCloser{}, nil
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	return file, file, nil
}

func firstSet(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}

	return ""
}
