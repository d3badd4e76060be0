package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
)

// ServiceName is attached to every record.
const ServiceName = "motioncore"

// Logger is a slog.Logger whose level can be changed at runtime and which
// may own a log file. Safe for concurrent use.
type Logger struct {
	*slog.Logger

	level *slog.LevelVar
	file  io.Closer
}

// New builds the process logger from the logging section.
//
// Records go to stdout or stderr as JSON or text. When cfg.File.Path is
// set they are also appended to that file, always as JSON; if the file
// cannot be opened the logger falls back to the console and says so.
// Every record carries service and version.
//
// The returned logger owns the file; Close it on shutdown.
func New(cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	console := consoleHandler(cfg, opts)
	l := &Logger{level: level}

	var fileErr error
	handler := console
	if cfg.File.Path != "" {
		var f *os.File
		if f, fileErr = openLogFile(cfg.File.Path); fileErr == nil {
			l.file = f
			handler = slogmulti.Fanout(console, slog.NewJSONHandler(f, opts))
		}
	}

	l.Logger = slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}))
	if fileErr != nil {
		l.Warn("log file unavailable, console only", "path", cfg.File.Path, "error", fileErr)
	}
	return l
}

func consoleHandler(cfg config.LoggingConfig, opts *slog.HandlerOptions) slog.Handler {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path comes from operator config
}

// parseLevel maps debug, info, warn (or warning) and error to slog levels.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the level of l and of every logger derived from it.
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// With derives a logger that adds args to every record and shares l's
// level.
//
//	link := logger.With("component", "intiface")
//	link.Info("connected") // component=intiface
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Close releases the log file. Derived loggers share it, so only the root
// logger is closed.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Default is the info-level JSON stdout logger used until the
// configuration has loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
