package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks problems that stem from how the process was set up
	// (empty corpus, invalid settings) rather than from caller input.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidTransition is returned when an agent run status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)
