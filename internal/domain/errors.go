package domain

import "errors"

var (
	// ErrUnexpectedEvent is a programming fault: the daemon sent a kind this build does not know.
	ErrUnexpectedEvent = errors.New("unexpected daemon event")

	// ErrNotConnected means no daemon connection is open.
	ErrNotConnected = errors.New("daemon not connected")

	// ErrDaemonUnavailable means the daemon could not be reached or launched.
	ErrDaemonUnavailable = errors.New("daemon unavailable")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
)
