// Provides common roomsync errors definitions.
package roomsync_errors

import "errors"

var (
	ErrSessionNotFound = errors.New("roomsync: session not found")
	ErrSessionExists   = errors.New("roomsync: session already exists")
	ErrBadRequest      = errors.New("roomsync: malformed method call")

	ErrConnectionClosed = errors.New("roomsync: connection is closed")
	ErrDisconnected     = errors.New("roomsync: disconnected by user")
)
