package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrMessageUnavailable = errors.New("message unavailable")
	ErrTransport          = errors.New("transport failure")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrLockHeld           = errors.New("lock already held")
)
