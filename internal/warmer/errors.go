package warmer

import "errors"

var (
	// ErrAlreadyActive is returned by StartWarming when a session is running.
	ErrAlreadyActive = errors.New("warmer already active")
	// ErrNotActive is returned by StopWarming when no session is running.
	ErrNotActive = errors.New("warmer not active")
	// ErrInsufficientAccounts is returned by StartWarming when fewer than two
	// eligible accounts are available.
	ErrInsufficientAccounts = errors.New("at least two eligible accounts required")
)
