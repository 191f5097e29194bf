package domain

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrUnauthenticated      = errors.New("authentication required")
	ErrInvalidToken         = errors.New("invalid authentication token")
	ErrInactiveUser         = errors.New("user is inactive")
	ErrForbidden            = errors.New("access denied")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrSlowConsumer         = errors.New("connection send buffer full")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrTransportUnavailable = errors.New("transport unavailable")
)
