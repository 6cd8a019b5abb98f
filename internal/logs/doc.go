// Package logs reads the recorder log file for the CLI.
//
// Last returns the final lines of a file together with the end offset, and
// Follow streams lines appended after an offset until the context ends. A
// truncated or replaced file restarts reading from the beginning.
package logs
