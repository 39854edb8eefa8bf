package eventstore

import "errors"

var (
	// ErrConcurrencyConflict means another writer advanced the stream since
	// the caller loaded it. The caller must reload, reapply its intent, and
	// resubmit (or surface a conflict); the store never retries on its own.
	ErrConcurrencyConflict = errors.New("event stream version conflict")

	// ErrStreamMissing means rehydration was requested for an aggregate that
	// has no create event. An empty stream where one is expected indicates a
	// corrupted or incomplete event log.
	ErrStreamMissing = errors.New("aggregate event stream missing")

	// ErrStreamCorrupt means the loaded stream has a version gap.
	ErrStreamCorrupt = errors.New("aggregate event stream has version gap")

	ErrNoEvents = errors.New("no events to append")
)
