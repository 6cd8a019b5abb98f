// Package journal keeps a SQLite record of upload outcomes keyed by segment
// path.
//
// The journal answers one question for the daemon at startup: which segments
// still on disk were already delivered. It also backs the status API and the
// segments CLI view. Existence and age of segments always come from the
// recordings directory, never from here.
package journal
