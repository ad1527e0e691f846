package client

import (
	"context"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/transport"
)

// IO is direct access to the connection, handed to callbacks. While a
// callback runs nothing else reads from or writes to the connection.
type IO interface {
	WriteQueries(qs ...protocol.Query) error
	ReadReply() (protocol.Reply, error)

	// Do writes q and reads its reply
	Do(q protocol.Query) (protocol.Reply, error)
}

// Callback runs with exclusive I/O access, either once per established
// connection (see SetConnectedCallback) or at its turn in the write queues
// (see EnqueueCallback). ctx is done once the Conn is closed.
type Callback func(ctx context.Context, io IO) error

// streamIO remembers the first transport error so the caller can trigger
// recovery once the callback returns, whatever the callback did with it.
type streamIO struct {
	stream *transport.Stream
	err    error
}

func (s *streamIO) WriteQueries(qs ...protocol.Query) error {
	if s.err != nil {
		return disconnected(s.err)
	}

	if err := s.stream.WriteQueries(qs...); err != nil {
		s.err = err
		return disconnected(err)
	}

	return nil
}

func (s *streamIO) ReadReply() (protocol.Reply, error) {
	if s.err != nil {
		return protocol.Reply{}, disconnected(s.err)
	}

	reply, err := s.stream.ReadReply()
	if err != nil {
		s.err = err
		return protocol.Reply{}, disconnected(err)
	}

	return reply, nil
}

func (s *streamIO) Do(q protocol.Query) (protocol.Reply, error) {
	if err := s.WriteQueries(q); err != nil {
		return protocol.Reply{}, err
	}

	return s.ReadReply()
}

var _ IO = (*streamIO)(nil)
