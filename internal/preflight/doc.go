// Package preflight provides readiness checks for the binaries, directories and
// remote services camrecorder depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll once at startup and refuses to start when a
//     required directory is unusable.
//   - The CLI "camrecorder config validate" command prints every result.
package preflight
