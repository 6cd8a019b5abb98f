// Package config loads, normalizes, and validates camrecorder configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML or YAML files, and honours environment fallbacks such
// as KINESCOPE_API_KEY and TELEGRAM_BOT_TOKEN. Durations are stored as whole
// seconds and exposed through accessor methods returning time.Duration.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
