// Package capture drives the external capture tool (ffmpeg) that records one
// bounded-duration segment from the camera stream.
//
// The driver owns the wall-clock limit: a process still running at target
// duration plus margin is asked to finalize its file and killed after a grace
// period. Each capture ends in exactly one terminal state: completed, partial
// (truncated but playable) or failed (no usable file; the output is removed).
// The tool's log output is kept only as a diagnostic tail and never parsed.
package capture
