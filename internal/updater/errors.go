package updater

import "errors"

// Domain-specific errors for the layout updater.
var (
	// ErrAlreadyRunning is returned by Start when a consumer is active.
	ErrAlreadyRunning = errors.New("updater: already running")

	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("updater: missing dependency")

	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = errors.New("updater: unknown queue policy")
)
