package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrPositionExists     = errors.New("position already open")
	ErrNoPosition         = errors.New("no open position")
	ErrMissingCredentials = errors.New("exchange credentials not configured")
	ErrOrderRejected      = errors.New("order rejected")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
)
