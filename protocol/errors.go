package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrProtocol is the parent of every error caused by data that is not
	// valid RESP. Once one is returned the stream position is unknown.
	ErrProtocol = errors.New("malformed RESP reply")

	ErrBadType = fmt.Errorf("%w: unknown type byte", ErrProtocol)
	ErrBadInt  = fmt.Errorf("%w: malformed integer", ErrProtocol)
)

// DecodeError carries the raw bytes that could not be decoded.
type DecodeError struct {
	Err error
	Raw []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), strconv.Quote(string(e.Raw)))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ServerError is an error reply sent by the server. The connection is fine
// when you get one of these.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}
