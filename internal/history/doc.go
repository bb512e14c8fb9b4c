// Package history records every handled layout request in SQLite.
//
// A Recorder observes session results and writes them off the updater
// goroutine through a small buffer; when the buffer is full entries are
// dropped rather than delaying the next layout. Old rows are pruned by
// retention age.
package history
