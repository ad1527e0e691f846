package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/luma/lantern/protocol"
)

// Stream is one live connection to the server. Reads and writes are buffered
// separately so one goroutine may read while another writes, but neither side
// may be used by two goroutines at once.
type Stream struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

func NewStream(conn net.Conn, bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Stream{
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufferSize),
		w:    bufio.NewWriterSize(conn, bufferSize),
	}
}

// Open connects using c and wraps the connection in a Stream.
func Open(ctx context.Context, c Connector, options Options) (*Stream, error) {
	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}

	return NewStream(conn, options.bufferSize()), nil
}

// WriteQueries writes all queries and flushes once.
func (s *Stream) WriteQueries(qs ...protocol.Query) error {
	if err := protocol.WriteQueries(s.w, qs); err != nil {
		return err
	}

	return s.w.Flush()
}

// ReadReply reads the next reply.
func (s *Stream) ReadReply() (protocol.Reply, error) {
	return protocol.ReadReply(s.r)
}

// Do writes q and reads its reply. Only safe while nothing else is reading.
func (s *Stream) Do(q protocol.Query) (protocol.Reply, error) {
	if err := s.WriteQueries(q); err != nil {
		return protocol.Reply{}, err
	}

	return s.ReadReply()
}

// Close closes the underlying connection, unblocking pending reads and writes.
// It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}
