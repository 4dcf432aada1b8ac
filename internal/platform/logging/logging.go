// Package logging builds the process logger: a text handler for the
// terminal, an optional JSON file, and the systemd journal when the process
// runs as a unit.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Config selects the handlers fanned out by New.
type Config struct {
	Level string
	// File receives JSON records when set.
	File string
	// Writer receives text records; defaults to stderr.
	Writer io.Writer
	// Journal forces the journal handler on or off. Nil means detect.
	Journal *bool
}

// New returns a logger and a close function for any opened file.
func New(cfg Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	parsed, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	level.Set(parsed)

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}
	closeFn := func() error { return nil }

	handlers := []slog.Handler{
		slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level}),
	}

	if path := strings.TrimSpace(cfg.File); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
		closeFn = file.Close
	}

	if journalEnabled(cfg.Journal) {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return journalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = journalKey(a.Key)
				return a
			},
		})
		if err == nil {
			handlers = append(handlers, journal)
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}

// ParseLevel accepts debug, info, warn and error; empty means info.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// systemd sets JOURNAL_STREAM for units whose output goes to the journal.
func journalEnabled(override *bool) bool {
	if override != nil {
		return *override
	}
	return os.Getenv("JOURNAL_STREAM") != ""
}

func journalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}
