// Package logging assembles structured slog loggers used across pubsweep.
//
// It owns the console and JSON handlers, level parsing, and the standardized
// attribute keys (component, pipeline, partition, chunk) so every package logs
// with the same shape. Console output is colorized only when writing to a
// terminal. The package also provides a no-op logger for tests.
package logging
