// Package decision defines the tool-decision log: an append-only record of
// every gate verdict, for debugging rules and reviewing what the agent was
// allowed to do.
package decision

import (
	"context"
	"time"
)

// Record is one logged gate verdict.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Scope     string    `json:"scope"`
	Tool      string    `json:"tool"`
	// Outcome is "allow", "block", or "confirm".
	Outcome string `json:"outcome"`
	// Reason is the block or confirm reason, empty for plain allows.
	Reason string `json:"reason,omitempty"`
	// Cached marks verdicts served from the decision cache.
	Cached bool `json:"cached,omitempty"`
}

// Log persists decision records and serves the most recent ones.
type Log interface {
	// Append stores records in order. Safe for concurrent use.
	Append(ctx context.Context, records ...Record) error

	// Recent returns up to n records, newest first.
	Recent(n int) []Record

	// Flush forces buffered records to stable storage.
	Flush(ctx context.Context) error

	// Close flushes and releases resources.
	Close() error
}
