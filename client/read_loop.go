package client

import (
	"go.uber.org/zap"

	"github.com/luma/lantern/protocol"
)

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	defer log.Debug("Read loop exited")

	for {
		action, ok := c.nextResponseAction()
		if !ok {
			select {
			case <-c.ctx.Done():
				return
			case <-c.queuedReads.wait():
			}

			continue
		}

		replies, err := c.readReplies(action)
		if err != nil {
			if c.ctx.Err() != nil {
				// Close fails whatever is left
				return
			}

			c.metrics.readFailures.Inc()
			log.Warn("Failed to read replies", zap.Int("expected", action.amount), zap.Error(err))

			c.handleFailure(action.stream, err)

			// Nothing written to that stream can be answered anymore
			c.mu.Lock()
			replyPromises, repliesPromises := c.popResponseActions(func(a futureResponseAction) bool {
				return a.stream == action.stream
			})
			empty := c.responseActions.Len() == 0
			c.mu.Unlock()

			c.rejectPromises(replyPromises, repliesPromises, disconnected(err))

			if empty {
				c.drained.set()
			}

			continue
		}

		c.deliver(replies)
	}
}

func (c *Conn) nextResponseAction() (futureResponseAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.responseActions.Len() == 0 {
		return futureResponseAction{}, false
	}

	return c.responseActions.Peek(0), true
}

func (c *Conn) readReplies(action futureResponseAction) ([]protocol.Reply, error) {
	replies := make([]protocol.Reply, 0, action.amount)

	for i := 0; i < action.amount; i++ {
		reply, err := action.stream.ReadReply()
		if err != nil {
			return nil, err
		}

		c.metrics.repliesRead.Inc()
		replies = append(replies, reply)
	}

	return replies, nil
}

// deliver hands replies to whoever the head of the ledger says, then pops it.
func (c *Conn) deliver(replies []protocol.Reply) {
	var (
		replyPromise   *promise[protocol.Reply]
		repliesPromise *promise[[]protocol.Reply]
	)

	c.mu.Lock()
	action := c.responseActions.PopFront()
	c.pendingReplies -= action.amount

	switch action.action {
	case deliver:
		replyPromise = c.replyPromises.PopFront()
	case deliverBulk:
		repliesPromise = c.repliesPromises.PopFront()
	}

	empty := c.responseActions.Len() == 0
	c.mu.Unlock()

	switch {
	case replyPromise != nil:
		replyPromise.resolve(replies[0])
	case repliesPromise != nil:
		repliesPromise.resolve(replies)
	}

	if empty {
		c.drained.set()
	}
}

// popResponseActions pops ledger entries from the front for as long as match
// says so, returning the promises they were going to resolve. c.mu must be
// held.
func (c *Conn) popResponseActions(match func(futureResponseAction) bool) ([]*promise[protocol.Reply], []*promise[[]protocol.Reply]) {
	var (
		replyPromises   []*promise[protocol.Reply]
		repliesPromises []*promise[[]protocol.Reply]
	)

	for c.responseActions.Len() > 0 && match(c.responseActions.Peek(0)) {
		action := c.responseActions.PopFront()
		c.pendingReplies -= action.amount

		switch action.action {
		case deliver:
			replyPromises = append(replyPromises, c.replyPromises.PopFront())
		case deliverBulk:
			repliesPromises = append(repliesPromises, c.repliesPromises.PopFront())
		}
	}

	return replyPromises, repliesPromises
}

// clearResponseActions empties the ledger. c.mu must be held.
func (c *Conn) clearResponseActions() ([]*promise[protocol.Reply], []*promise[[]protocol.Reply]) {
	return c.popResponseActions(func(futureResponseAction) bool { return true })
}

func (c *Conn) rejectPromises(replyPromises []*promise[protocol.Reply], repliesPromises []*promise[[]protocol.Reply], err error) {
	for _, p := range replyPromises {
		p.reject(err)
	}

	for _, p := range repliesPromises {
		p.reject(err)
	}

	if n := len(replyPromises) + len(repliesPromises); n > 0 {
		c.metrics.failedRequests.Add(n)
	}
}
