package config

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// isTerminal is a variable so tests can force either log format.
var isTerminal = func(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetupLogging configures the global slog logger based on args
// Returns the log file handle (caller must close it) or nil if no file
func SetupLogging(args Args) (*os.File, error) {
	writers := []io.Writer{os.Stderr}
	var logFile *os.File

	if args.Log != "" {
		f, err := os.OpenFile(args.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFile = f
		writers = append(writers, f)
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}

	slog.SetDefault(slog.New(newHandler(output, args)))

	return logFile, nil
}

// newHandler builds the slog handler for the selected format and level.
func newHandler(w io.Writer, args Args) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(args.LogLevel),
	}
	if opts.Level == slog.LevelDebug {
		opts.AddSource = true
	}

	if logFormat(args) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// logFormat resolves the empty format to text on a terminal and json otherwise.
// A log file always gets json unless text was asked for.
func logFormat(args Args) string {
	if args.LogFormat != "" {
		return args.LogFormat
	}
	if args.Log == "" && isTerminal(os.Stderr) {
		return "text"
	}
	return "json"
}

// parseLogLevel converts string to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
