package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/yourusername/mc-server-manager/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger    *slog.Logger
	initOnce  sync.Once
	logCloser io.Closer
)

// Init configures the global logger singleton. The std log package is
// redirected into it, so "[Component] message" lines become records with a
// component attribute.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	initOnce.Do(func() {
		output, closer := buildOutput(cfg, os.Stdout)
		if closer != nil {
			logCloser = closer
		}

		logger = slog.New(newHandler(output, cfg))
		slog.SetDefault(logger)
		log.SetFlags(0)
		log.SetOutput(slogWriter{logger: logger})
	})

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return logger, nil
}

// L returns the configured logger, or a no-op logger if not initialized.
func L() *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return logger
}

// For returns a logger tagged with a component name.
func For(component string) *slog.Logger {
	return L().With("component", component)
}

// Close flushes and closes any logger resources.
func Close() error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

func newHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: strings.EqualFold(cfg.Level, "debug")}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}

type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	component, rest := splitComponent(msg)
	level := levelOf(rest)
	if component != "" {
		w.logger.Log(context.Background(), level, rest, "component", component)
	} else {
		w.logger.Log(context.Background(), level, rest)
	}
	return len(p), nil
}

// splitComponent peels a leading "[Name] " tag off a std log line.
func splitComponent(msg string) (string, string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.Index(msg, "]")
	if end <= 1 || strings.ContainsAny(msg[1:end], " \t") {
		return "", msg
	}
	return msg[1:end], strings.TrimSpace(msg[end+1:])
}

func levelOf(msg string) slog.Level {
	lower := strings.ToLower(msg)
	if strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "warning") || strings.Contains(lower, "failed") {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func buildOutput(cfg config.LoggingConfig, console io.Writer) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.File) == "" {
		return console, nil
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return io.MultiWriter(console, fileLogger), fileLogger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
