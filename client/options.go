package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/lantern/transport"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
)

type Options struct {
	// Host and Port of the Redis server
	Host string
	Port int

	// Path to a unix socket. Takes precedence over Host and Port.
	Path string

	// Password is sent with AUTH after connecting, unless empty
	Password string

	// DB is sent with SELECT after connecting, unless 0
	DB int

	DialTimeout time.Duration

	// ReconnectDelay is the wait before the first retry of a failed connection
	// attempt. It doubles with every failed attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// Connector overrides how connections are opened. Mostly for tests.
	Connector transport.Connector

	Log *zap.Logger
}

func (o Options) transportOptions() transport.Options {
	return transport.Options{
		Host:        o.Host,
		Port:        o.Port,
		Path:        o.Path,
		DialTimeout: o.DialTimeout,
	}
}

func (o Options) reconnectDelay() time.Duration {
	if o.ReconnectDelay > 0 {
		return o.ReconnectDelay
	}

	return DefaultReconnectDelay
}

func (o Options) maxReconnectDelay() time.Duration {
	limit := o.MaxReconnectDelay
	if limit <= 0 {
		limit = DefaultMaxReconnectDelay
	}

	if limit < o.reconnectDelay() {
		return o.reconnectDelay()
	}

	return limit
}
