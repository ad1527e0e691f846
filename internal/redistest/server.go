// Package redistest runs a small in-process Redis look-alike for tests. It
// records every query it receives, in arrival order, and answers them with a
// replaceable Handler.
package redistest

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/luma/lantern/protocol"
)

// Handler answers a query. Returning false sends nothing back, the client
// is left waiting.
type Handler func(q protocol.Query) (protocol.Reply, bool)

type Server struct {
	listener net.Listener

	mu       sync.Mutex
	handler  Handler
	conns    map[net.Conn]struct{}
	queries  []protocol.Query
	accepted int
	closed   bool

	wg sync.WaitGroup
}

// NewTCPServer listens on a random local port.
func NewTCPServer() (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	return serve(l), nil
}

// NewUnixServer listens on the unix socket at path.
func NewUnixServer(path string) (*Server, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	return serve(l), nil
}

func serve(l net.Listener) *Server {
	s := &Server{
		listener: l,
		handler:  NewKeyspace("").Handle,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Queries returns a copy of every query received so far.
func (s *Server) Queries() []protocol.Query {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]protocol.Query(nil), s.queries...)
}

// Commands is Queries rendered as strings, handy for matchers.
func (s *Server) Commands() []string {
	queries := s.Queries()
	commands := make([]string, 0, len(queries))

	for _, q := range queries {
		commands = append(commands, q.String())
	}

	return commands
}

func (s *Server) ResetQueries() {
	s.mu.Lock()
	s.queries = nil
	s.mu.Unlock()
}

// Accepted is the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.accepted
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()

	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := protocol.ReadReply(r)
		if err != nil {
			return
		}

		q, err := toQuery(req)
		if err != nil {
			w.Write(AppendReply(nil, protocol.Error("ERR "+err.Error())))
			w.Flush()
			return
		}

		s.mu.Lock()
		s.queries = append(s.queries, q)
		handler := s.handler
		s.mu.Unlock()

		if reply, ok := handler(q); ok {
			if _, err := w.Write(AppendReply(nil, reply)); err != nil {
				return
			}
		}

		// Only flush once the client has nothing more buffered for us, so
		// pipelined queries get their replies in one write.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func toQuery(req protocol.Reply) (protocol.Query, error) {
	if req.Type != protocol.ReplyArray {
		return nil, errors.New("query is not an array")
	}

	q := make(protocol.Query, 0, len(req.Elements))
	for _, e := range req.Elements {
		if e.Type != protocol.ReplyBulkString {
			return nil, errors.New("query argument is not a bulk string")
		}

		q = append(q, e.Str)
	}

	return q, nil
}
