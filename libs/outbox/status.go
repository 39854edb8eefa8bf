package outbox

import "fmt"

// Status is the outbox record lifecycle state. Pending records are retried
// until published or dead-lettered; published and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}
	return status, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPublished, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Rescheduling after a publish failure is pending -> pending.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusPublished || next == StatusFailed
	case StatusPublished, StatusFailed:
		return false
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
