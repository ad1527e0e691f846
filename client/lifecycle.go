package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/transport"
)

// spawnConnect starts a connection attempt in the background. The caller must
// hold c.mu and own c.connecting.
func (c *Conn) spawnConnect() {
	if c.closed {
		return
	}

	c.loopWaiter.Add(1)

	go func() {
		defer c.loopWaiter.Done()
		c.connect()
	}()
}

// connect retries until it established a connection or the Conn is closed.
func (c *Conn) connect() {
	log := c.log.Named("connect").With(
		zap.String("transport", c.connector.Name()),
		zap.String("endpoint", c.connector.Endpoint()))

	delay := c.options.reconnectDelay()

	for attempt := 1; ; attempt++ {
		log.Debug("Connecting to Redis", zap.Int("attempt", attempt))

		stream, err := c.open()
		if err == nil {
			if c.install(stream) {
				log.Info("Connected to Redis", zap.Int("attempts", attempt))
			}
			return
		}

		if c.ctx.Err() != nil {
			return
		}

		c.metrics.connectFailures.Inc()

		wait := jitter(delay)
		log.Error("Cannot connect to Redis, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait))

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}

		delay *= 2
		if limit := c.options.maxReconnectDelay(); delay > limit {
			delay = limit
		}
	}
}

// open dials and runs the handshake: AUTH, SELECT and the connected callback.
func (c *Conn) open() (*transport.Stream, error) {
	stream, err := transport.Open(c.ctx, c.connector, c.transportOptions)
	if err != nil {
		return nil, err
	}

	// Close unblocks a handshake stuck on an unresponsive server
	stop := context.AfterFunc(c.ctx, func() { stream.Close() })
	defer stop()

	if err := c.handshake(stream); err != nil {
		stream.Close()
		return nil, err
	}

	return stream, nil
}

func (c *Conn) handshake(stream *transport.Stream) error {
	if c.options.Password != "" {
		reply, err := stream.Do(protocol.NewQuery(protocol.AUTH, c.options.Password))
		if err = replyErr(reply, err); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	if c.options.DB != 0 {
		reply, err := stream.Do(protocol.NewQuery(protocol.SELECT, strconv.Itoa(c.options.DB)))
		if err = replyErr(reply, err); err != nil {
			return fmt.Errorf("SELECT %d failed: %w", c.options.DB, err)
		}
	}

	c.mu.Lock()
	cb := c.connectedCallback
	c.mu.Unlock()

	if cb != nil {
		if err := cb(c.ctx, &streamIO{stream: stream}); err != nil {
			return fmt.Errorf("connected callback failed: %w", err)
		}
	}

	return nil
}

// install makes stream the live connection and wakes both loops.
func (c *Conn) install(stream *transport.Stream) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stream.Close()
		return false
	}

	c.stream = stream
	c.connected.Store(true)
	c.mu.Unlock()

	c.queuedWrites.set()
	c.queuedReads.set()

	return true
}

// handleFailure is called by anything that failed to use stream. The first
// caller for the live stream takes ownership of recovery: it drops the stream
// and spawns exactly one reconnect. Failures on a stream that was already
// dropped are ignored, the read loop still fails whatever was in flight on it.
func (c *Conn) handleFailure(stream *transport.Stream, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stream == nil || c.stream != stream {
		return
	}

	if !c.connecting.CompareAndSwap(true, false) {
		return
	}

	c.connected.Store(false)
	c.stream = nil
	stream.Close()

	if errors.Is(cause, protocol.ErrProtocol) {
		c.log.Error("Received malformed data from Redis, reconnecting", zap.Error(cause))
	} else {
		c.log.Warn("Lost connection to Redis, reconnecting", zap.Error(cause))
	}

	if c.connecting.CompareAndSwap(false, true) {
		c.metrics.reconnects.Inc()
		c.spawnConnect()
	}
}

func replyErr(reply protocol.Reply, err error) error {
	if err != nil {
		return err
	}

	return reply.ErrorOrNil()
}

// jitter spreads d by +-10%
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.9 + 0.2*rand.Float64()))
}
