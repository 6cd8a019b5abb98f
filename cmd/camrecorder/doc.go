// Package main hosts the camrecorder CLI entrypoint and command graph.
//
// The Cobra command tree runs the recorder in the foreground, queries a
// running recorder over its HTTP status API, performs one-off uploads and
// scaffolds configuration. Heavy lifting lives in the internal packages; the
// commands here only resolve configuration and render output.
package main
