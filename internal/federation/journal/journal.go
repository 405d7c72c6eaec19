// Package journal records which activity IDs have already been processed.
// The atomic insert-if-absent here is the engine's only guard against
// duplicate delivery: the same activity may arrive concurrently from
// cooperating relays, and protocol-correct senders legitimately retry.
package journal

import (
	"context"
	"time"
)

// Outcome of recording an activity ID.
type Outcome int

const (
	// Inserted: first sighting; the caller owns applying the activity.
	Inserted Outcome = iota + 1
	// AlreadyExists: terminal success, no further side effects. Not an
	// error — retried delivery is valid sender behavior.
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Journal is the insert-if-absent store of received activity IDs. RecordIfNew
// must be a single atomic operation under concurrency — a true uniqueness
// constraint, not read-then-write.
type Journal interface {
	RecordIfNew(ctx context.Context, activityID string) (Outcome, error)
}

// Clock abstracts time for testability.
type Clock func() time.Time
