package pipeline

import "errors"

var (
	// ErrInvalidState is returned when an operation is requested in a
	// pipeline state that does not support it.
	ErrInvalidState = errors.New("invalid pipeline state")
	// ErrNotConfigured is returned when an operation needs a collaborator
	// that was never provided.
	ErrNotConfigured = errors.New("not configured")
	// ErrChannelClosed is returned when the processor chain stopped
	// accepting frames before a response was fully delivered.
	ErrChannelClosed = errors.New("channel closed")
)
