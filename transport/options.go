package transport

import "time"

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultBufferSize  = 4096
)

type Options struct {
	// Host and Port of the Redis server
	Host string
	Port int

	// Path of a unix socket. When set Host and Port are ignored.
	Path string

	// DialTimeout bounds a single connection attempt
	DialTimeout time.Duration

	// BufferSize of the buffered reader and writer wrapping each connection
	BufferSize int
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}

	return DefaultDialTimeout
}

func (o Options) bufferSize() int {
	if o.BufferSize > 0 {
		return o.BufferSize
	}

	return DefaultBufferSize
}
