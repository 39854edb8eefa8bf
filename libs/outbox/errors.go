package outbox

import "errors"

var (
	// ErrTenantMismatch means the envelope carried a tenant id different
	// from the ambient one. The write is rejected before anything touches
	// the database; this is the tenant-forgery guard.
	ErrTenantMismatch = errors.New("envelope tenant does not match ambient tenant")

	ErrStatusInvalid     = errors.New("invalid outbox status")
	ErrRecordNotFound    = errors.New("outbox record not found")
	ErrAppenderRequired  = errors.New("outbox appender is required")
	ErrPublisherRequired = errors.New("outbox publisher target is required")
)
