package domain

import "errors"

// Error taxonomy shared by the stores, the chat service and the transports.
var (
	// ErrValidation marks input rejected before anything is written.
	ErrValidation = errors.New("validation error")
	// ErrStorage marks a failure reported by a message or conversation store.
	ErrStorage = errors.New("storage error")
	// ErrNotFound marks a record that does not exist.
	ErrNotFound = errors.New("not found")
)
