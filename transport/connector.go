package transport

import (
	"context"
	"net"
	"strconv"
)

// Connector opens connections to one Redis server.
type Connector interface {
	// Connect establishes a single connection
	Connect(ctx context.Context) (net.Conn, error)

	// Name of the transport type, "tcp" or "unix"
	Name() string

	// Endpoint is the address being connected to, for logging
	Endpoint() string
}

// NewConnector picks the unix socket connector when a path is configured and
// the tcp connector otherwise.
func NewConnector(options Options) Connector {
	dialer := &net.Dialer{Timeout: options.dialTimeout()}

	if options.Path != "" {
		return &unixConnector{path: options.Path, dialer: dialer}
	}

	return &tcpConnector{
		addr:   net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		dialer: dialer,
	}
}

type tcpConnector struct {
	addr   string
	dialer *net.Dialer
}

func (c *tcpConnector) Name() string {
	return "tcp"
}

func (c *tcpConnector) Endpoint() string {
	return c.addr
}

func (c *tcpConnector) Connect(ctx context.Context) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		// queries are flushed explicitly, there is no point in delaying them
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

type unixConnector struct {
	path   string
	dialer *net.Dialer
}

func (c *unixConnector) Name() string {
	return "unix"
}

func (c *unixConnector) Endpoint() string {
	return c.path
}

func (c *unixConnector) Connect(ctx context.Context) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "unix", c.path)
}

var _ Connector = (*tcpConnector)(nil)
var _ Connector = (*unixConnector)(nil)
