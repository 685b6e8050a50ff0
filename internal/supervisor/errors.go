package supervisor

import "errors"

var (
	// ErrNotFound means no bot configuration exists for the id.
	ErrNotFound = errors.New("supervisor: bot not found")

	// ErrAlreadyActive means a connect was issued while the bot is
	// already connecting or connected.
	ErrAlreadyActive = errors.New("supervisor: bot already active")

	// ErrNotActive means a disconnect (or a live-session query) was
	// issued while no connection handle exists.
	ErrNotActive = errors.New("supervisor: bot not active")
)
