// Package log implements structured, leveled logging with pluggable
// formatters and outputs.
//
// Loggers are constructed explicitly and passed via dependency injection;
// there is no global default logger. Components attach identifying fields
// once and reuse the child logger:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel))
//	dl := logger.With(log.Component("dispatcher"))
//	dl.Info("cycle complete", log.Int("delivered", n))
//
// RedirectStdLog routes stdlib log output (e.g. Pebble's) through a Logger.
package log
