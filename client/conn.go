// Package client keeps a single connection to a Redis server that many
// goroutines can push queries through.
//
// Queries are queued per Priority and written by one write loop, lowest
// priority value first. Because Redis answers in order, the replies are
// matched to queries purely by position: every write appends an entry to a
// ledger which the read loop consumes one reply batch at a time. A broken
// connection fails everything in flight on it and is re-established in the
// background, queued queries simply wait for it.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/edwingeng/deque/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/transport"
)

type Conn struct {
	options          Options
	transportOptions transport.Options
	connector        transport.Connector

	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	// started is set once by Start. connecting is owned by whoever is
	// responsible for the current connection: it stays set while connected
	// and is only cleared, briefly, by the goroutine tearing a broken
	// connection down.
	started    atomic.Bool
	connecting atomic.Bool
	connected  atomic.Bool

	// mu guards everything below it
	mu     sync.Mutex
	closed bool

	// stream is nil while not connected
	stream *transport.Stream

	writes writeQueues

	// ledger of what to do with upcoming replies, and the promises the
	// deliver actions resolve, all in write order
	responseActions *deque.Deque[futureResponseAction]
	replyPromises   *deque.Deque[*promise[protocol.Reply]]
	repliesPromises *deque.Deque[*promise[[]protocol.Reply]]
	pendingReplies  int

	connectedCallback Callback

	// queuedWrites wakes the write loop, queuedReads the read loop and
	// drained tells a waiting callback that no replies are outstanding
	queuedWrites *event
	queuedReads  *event
	drained      *event

	pending *xsync.MapOf[Priority, *xsync.Counter]
	metrics *connMetrics

	log *zap.Logger
}

func New(options Options) *Conn {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	connector := options.Connector
	if connector == nil {
		connector = transport.NewConnector(options.transportOptions())
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		options:          options,
		transportOptions: options.transportOptions(),
		connector:        connector,
		ctx:              ctx,
		cancel:           cancel,
		writes:           newWriteQueues(),
		responseActions:  deque.NewDeque[futureResponseAction](),
		replyPromises:    deque.NewDeque[*promise[protocol.Reply]](),
		repliesPromises:  deque.NewDeque[*promise[[]protocol.Reply]](),
		queuedWrites:     newEvent(),
		queuedReads:      newEvent(),
		drained:          newEvent(),
		pending:          xsync.NewMapOf[Priority, *xsync.Counter](),
		log:              log,
	}
	c.metrics = newConnMetrics(c)

	return c
}

// Start launches the read and write loops and the first connection attempt.
// Only the first call does anything. Queries submitted before Start are kept
// queued until then.
func (c *Conn) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.started.CompareAndSwap(false, true) {
		c.loopWaiter.Add(2)

		go func() {
			defer c.loopWaiter.Done()
			c.readLoop()
		}()

		go func() {
			defer c.loopWaiter.Done()
			c.writeLoop()
		}()
	}

	if c.connecting.CompareAndSwap(false, true) {
		c.spawnConnect()
	}
}

// IsConnected reports whether the connection is currently usable.
func (c *Conn) IsConnected() bool {
	return c.connected.Load()
}

// FireAndForgetQuery queues q and ignores its reply. Errors, including the
// query never being sent, go unnoticed.
func (c *Conn) FireAndForgetQuery(q protocol.Query, p Priority) {
	c.enqueue(p, &writeItem{queries: []protocol.Query{q}, action: ignore})
}

// FireAndForgetQueries queues qs to be written back to back and ignores
// their replies.
func (c *Conn) FireAndForgetQueries(qs []protocol.Query, p Priority) {
	c.enqueue(p, &writeItem{queries: qs, action: ignore})
}

// GetResultOfQuery queues q and waits for its reply. Error replies from the
// server are returned as replies, see protocol.Reply.ErrorOrNil. If the
// connection breaks before the reply arrived it returns ErrDisconnected.
//
// Giving up early through ctx leaves the query queued.
func (c *Conn) GetResultOfQuery(ctx context.Context, q protocol.Query, p Priority) (protocol.Reply, error) {
	reply := newPromise[protocol.Reply]()
	c.enqueue(p, &writeItem{queries: []protocol.Query{q}, action: deliver, reply: reply})

	return reply.wait(ctx)
}

// GetResultsOfQueries queues qs to be written back to back and waits for all
// of their replies, returned in the same order.
func (c *Conn) GetResultsOfQueries(ctx context.Context, qs []protocol.Query, p Priority) ([]protocol.Reply, error) {
	replies := newPromise[[]protocol.Reply]()
	c.enqueue(p, &writeItem{queries: qs, action: deliverBulk, replies: replies})

	return replies.wait(ctx)
}

// EnqueueCallback queues cb to run with direct access to the connection at
// its priority's turn.
func (c *Conn) EnqueueCallback(cb Callback, p Priority) {
	c.enqueue(p, &writeItem{callback: cb})
}

// Sync waits until everything queued before it, in any class that isn't
// suppressed, was written and answered.
func (c *Conn) Sync(ctx context.Context) error {
	done := newPromise[struct{}]()
	c.enqueue(SyncConnection, &writeItem{
		callback: func(context.Context, IO) error { return nil },
		done:     done,
	})

	_, err := done.wait(ctx)
	return err
}

// SuppressQueryKind holds back everything queued at p, until
// UnsuppressQueryKind. Queries can still be queued in the meantime.
func (c *Conn) SuppressQueryKind(p Priority) {
	c.mu.Lock()
	c.writes.suppress(p)
	c.mu.Unlock()

	c.log.Info("Suppressing queries", zap.Stringer("priority", p))
}

func (c *Conn) UnsuppressQueryKind(p Priority) {
	c.mu.Lock()
	wasSuppressed := c.writes.unsuppress(p)
	c.mu.Unlock()

	if wasSuppressed {
		c.log.Info("No longer suppressing queries", zap.Stringer("priority", p))
		c.queuedWrites.set()
	}
}

// IsSuppressed reports whether queries at p are being held back.
func (c *Conn) IsSuppressed(p Priority) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writes.isSuppressed(p)
}

// SetConnectedCallback registers cb to run on every freshly established
// connection, after AUTH and SELECT and before the connection is used for
// anything else. If cb fails the connection is dropped and retried.
func (c *Conn) SetConnectedCallback(cb Callback) {
	c.mu.Lock()
	c.connectedCallback = cb
	c.mu.Unlock()
}

// Close stops the loops and closes the connection. Everything still queued
// or in flight fails with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	stream := c.stream
	c.stream = nil
	c.connected.Store(false)
	c.mu.Unlock()

	c.cancel()

	var err error
	if stream != nil {
		err = stream.Close()
	}

	c.loopWaiter.Wait()
	c.failAll(ErrClosed)

	c.log.Info("Connection closed")

	return err
}

func (c *Conn) enqueue(p Priority, item *writeItem) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		item.reject(ErrClosed)
		return
	}

	c.writes.push(p, item)
	c.pendingCounter(p).Inc()
	c.mu.Unlock()

	c.queuedWrites.set()
}

// failAll rejects everything queued or awaiting replies.
func (c *Conn) failAll(err error) {
	var rejected []*writeItem

	c.mu.Lock()
	c.writes.drain(func(p Priority, item *writeItem) {
		c.pendingCounter(p).Dec()
		rejected = append(rejected, item)
	})
	replyPromises, repliesPromises := c.clearResponseActions()
	c.mu.Unlock()

	for _, item := range rejected {
		if item.hasWaiter() {
			c.metrics.failedRequests.Inc()
		}
		item.reject(err)
	}

	c.rejectPromises(replyPromises, repliesPromises, err)
}
