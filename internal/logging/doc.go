// Package logging assembles the structured slog loggers used across
// camrecorder.
//
// It owns the console and JSON handlers, level and output plumbing, secret
// redaction for API keys, bot tokens and stream URLs with credentials, and
// context helpers that tag lines with the segment or upload task being
// processed. NewNop provides a silent logger for tests and optional wiring.
package logging
