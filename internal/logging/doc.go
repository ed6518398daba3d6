// Package logging configures structured slog output for amanidx.
// Logs are JSON lines written to a size-rotated file under ~/.amanidx/logs/,
// optionally mirrored to stderr when --debug is set.
package logging
