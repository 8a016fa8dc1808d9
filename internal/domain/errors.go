package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSigningFailed        = errors.New("signing failed")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrLockHeld             = errors.New("lock already held")
	ErrMalformedUpdate      = errors.New("malformed book update")
	ErrInvalidPosition      = errors.New("invalid position")
	ErrOrderRejected        = errors.New("order rejected")
	ErrReferenceUnavailable = errors.New("reference price unavailable")
	ErrKillSwitch           = errors.New("daily loss limit reached")
	ErrDuplicate            = errors.New("duplicate execution")
	ErrInvalidConfig        = errors.New("invalid config")
)
