package client

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned for requests that can't be answered because
	// the connection to Redis is, or was while they were in flight, unusable.
	ErrDisconnected = errors.New("not connected to Redis")

	// ErrClosed is returned for requests submitted to, or still pending in, a
	// closed Conn.
	ErrClosed = errors.New("connection closed")
)

func disconnected(cause error) error {
	if cause == nil || errors.Is(cause, ErrDisconnected) {
		return ErrDisconnected
	}

	return fmt.Errorf("%w: %w", ErrDisconnected, cause)
}
