// Package segment models one bounded-duration recording file and its
// lifecycle: a capture completion state that is set once, an upload state
// advanced only by the upload worker, and an immutable playback reference.
//
// The recordings directory is the source of truth for which segments exist
// and which is oldest; Scan reads it.
package segment
