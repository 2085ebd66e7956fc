package store

import "errors"

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("record not found")
	// ErrAgentNotFound is returned when a metric is written for an unknown agent UUID.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrInvalidRecord is returned when a record fails validation before any write.
	ErrInvalidRecord = errors.New("invalid record")
)
