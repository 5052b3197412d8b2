package log

import (
	"bytes"
	stdlog "log"
)

// Config selects level and format for a process-wide logger.
type Config struct {
	Level  string // debug|info|warn|error (default info)
	Format string // text|json (default text)
}

// ApplyConfig builds a Logger from a Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	level := InfoLevel
	if cfg != nil && cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	var formatter Formatter = &TextFormatter{}
	if cfg != nil && cfg.Format == "json" {
		formatter = &JSONFormatter{}
	}
	return NewLogger(WithLevel(level), WithFormatter(formatter)), nil
}

// RedirectStdLog routes the standard library's default logger (used by
// Pebble among others) through the provided Logger at InfoLevel.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdlogWriter{logger: logger})
}

type stdlogWriter struct {
	logger Logger
}

func (w *stdlogWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, "\n"))
	if msg != "" {
		w.logger.Info(msg, Component("stdlog"))
	}
	return len(p), nil
}
