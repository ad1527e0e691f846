package client

import (
	"go.uber.org/zap"

	"github.com/luma/lantern/transport"
)

func (c *Conn) writeLoop() {
	log := c.log.Named("writeLoop")

	defer log.Debug("Write loop exited")

	for {
		item, p, stream, ok := c.nextWrite()
		if !ok {
			select {
			case <-c.ctx.Done():
				return
			case <-c.queuedWrites.wait():
			}

			continue
		}

		c.writeItem(log, p, stream, item)
	}
}

// nextWrite pops the next item to dispatch, if connected and there is one.
func (c *Conn) nextWrite() (*writeItem, Priority, *transport.Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil, 0, nil, false
	}

	item, p, ok := c.writes.pop()
	if !ok {
		return nil, 0, nil, false
	}

	c.pendingCounter(p).Dec()

	return item, p, c.stream, true
}

func (c *Conn) writeItem(log *zap.Logger, p Priority, stream *transport.Stream, item *writeItem) {
	if item.callback != nil {
		c.runCallback(log, p, item)
		return
	}

	if err := stream.WriteQueries(item.queries...); err != nil {
		if c.ctx.Err() != nil {
			item.reject(ErrClosed)
			return
		}

		c.metrics.writeFailures.Inc()
		log.Warn("Failed to write queries", zap.Int("queries", len(item.queries)), zap.Error(err))

		c.handleFailure(stream, err)

		if item.hasWaiter() {
			c.metrics.failedRequests.Inc()
		}
		item.reject(disconnected(err))

		return
	}

	c.metrics.queriesWritten.Add(len(item.queries))

	c.mu.Lock()
	c.responseActions.PushBack(futureResponseAction{
		amount: len(item.queries),
		action: item.action,
		stream: stream,
	})
	c.pendingReplies += len(item.queries)

	switch item.action {
	case deliver:
		c.replyPromises.PushBack(item.reply)
	case deliverBulk:
		c.repliesPromises.PushBack(item.replies)
	}
	c.mu.Unlock()

	c.queuedReads.set()
}

// runCallback waits until every reply already asked for was read, so the
// callback has the connection to itself, then runs it on whatever stream is
// live by then. Without one the callback goes back to the head of its queue.
func (c *Conn) runCallback(log *zap.Logger, p Priority, item *writeItem) {
	stream, ok := c.waitDrained()
	if !ok {
		item.reject(ErrClosed)
		return
	}

	if stream == nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			item.reject(ErrClosed)
			return
		}
		c.writes.requeue(p, item)
		c.pendingCounter(p).Inc()
		c.mu.Unlock()

		log.Debug("Connection lost before callback ran, requeued", zap.Stringer("priority", p))
		return
	}

	io := &streamIO{stream: stream}
	err := item.callback(c.ctx, io)

	if io.err != nil {
		c.handleFailure(stream, io.err)
	}

	if err != nil {
		log.Warn("Callback failed", zap.Error(err))

		if item.done != nil {
			item.done.reject(err)
		}

		return
	}

	if item.done != nil {
		item.done.resolve(struct{}{})
	}
}

// waitDrained blocks until the ledger is empty and returns the stream live at
// that point, nil if there is none. It returns false if the Conn was closed
// first.
func (c *Conn) waitDrained() (*transport.Stream, bool) {
	for {
		c.mu.Lock()
		empty := c.responseActions.Len() == 0
		stream := c.stream
		c.mu.Unlock()

		if empty {
			return stream, true
		}

		select {
		case <-c.ctx.Done():
			return nil, false
		case <-c.drained.wait():
		}
	}
}
