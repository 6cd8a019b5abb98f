// Package daemon coordinates the long-running camrecorder process.
//
// It wraps the workflow manager in a single lifecycle with flock-based locking
// so only one recorder writes to a recordings directory, and serves a small
// read-only HTTP API (/healthz, /api/status, /api/segments and optionally
// /metrics) on paths.api_bind.
//
// Keep orchestration logic here: the record cycle and upload worker live in
// the workflow and queue packages while the daemon focuses on startup,
// shutdown and reporting.
package daemon
