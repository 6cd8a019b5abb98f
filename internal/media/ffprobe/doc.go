// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The capture driver uses it to tell a playable truncated recording from a
// useless one and to read the real duration of a segment.
package ffprobe
