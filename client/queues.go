package client

import (
	"sort"

	"github.com/edwingeng/deque/v2"

	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/transport"
)

// responseAction says what the read loop does with the replies to something
// the write loop sent.
type responseAction uint8

const (
	// discard
	ignore responseAction = iota
	// hand a single reply to the next replyPromise
	deliver
	// hand all replies at once to the next repliesPromise
	deliverBulk
)

// futureResponseAction is one entry of the ledger pairing what was sent with
// what has to happen to its replies. Entries are consumed strictly in the
// order they were written, the protocol has no request IDs.
type futureResponseAction struct {
	amount int
	action responseAction

	// stream the queries were written to, their replies can only come from it
	stream *transport.Stream
}

// writeItem is something queued for the write loop: queries, optionally with
// a promise for their replies, or a callback.
type writeItem struct {
	queries []protocol.Query
	action  responseAction
	reply   *promise[protocol.Reply]
	replies *promise[[]protocol.Reply]

	callback Callback
	done     *promise[struct{}]
}

// reject settles whatever the submitter may be waiting on.
func (i *writeItem) reject(err error) {
	switch {
	case i.reply != nil:
		i.reply.reject(err)
	case i.replies != nil:
		i.replies.reject(err)
	case i.done != nil:
		i.done.reject(err)
	}
}

func (i *writeItem) hasWaiter() bool {
	return i.reply != nil || i.replies != nil || i.done != nil
}

// writeQueues holds one FIFO per priority class. The zero value is not usable,
// see newWriteQueues.
type writeQueues struct {
	// order lists every class that has a queue, ascending
	order      []Priority
	queues     map[Priority]*deque.Deque[*writeItem]
	suppressed map[Priority]struct{}
}

func newWriteQueues() writeQueues {
	return writeQueues{
		queues:     make(map[Priority]*deque.Deque[*writeItem]),
		suppressed: make(map[Priority]struct{}),
	}
}

func (w *writeQueues) push(p Priority, item *writeItem) {
	w.queue(p).PushBack(item)
}

// requeue puts item back at the head of its class.
func (w *writeQueues) requeue(p Priority, item *writeItem) {
	w.queue(p).PushFront(item)
}

func (w *writeQueues) queue(p Priority) *deque.Deque[*writeItem] {
	q, ok := w.queues[p]
	if !ok {
		q = deque.NewDeque[*writeItem]()
		w.queues[p] = q

		i := sort.Search(len(w.order), func(i int) bool { return w.order[i] >= p })
		w.order = append(w.order, 0)
		copy(w.order[i+1:], w.order[i:])
		w.order[i] = p
	}

	return q
}

// pop takes the head of the lowest non-suppressed, non-empty class.
func (w *writeQueues) pop() (*writeItem, Priority, bool) {
	for _, p := range w.order {
		if _, suppressed := w.suppressed[p]; suppressed {
			continue
		}

		if q := w.queues[p]; q.Len() > 0 {
			return q.PopFront(), p, true
		}
	}

	return nil, 0, false
}

func (w *writeQueues) suppress(p Priority) {
	w.suppressed[p] = struct{}{}
}

// unsuppress reports whether p was suppressed.
func (w *writeQueues) unsuppress(p Priority) bool {
	_, ok := w.suppressed[p]
	delete(w.suppressed, p)
	return ok
}

func (w *writeQueues) isSuppressed(p Priority) bool {
	_, ok := w.suppressed[p]
	return ok
}

// drain empties every queue, calling f for each item in dispatch order.
func (w *writeQueues) drain(f func(p Priority, item *writeItem)) {
	for _, p := range w.order {
		q := w.queues[p]
		for q.Len() > 0 {
			f(p, q.PopFront())
		}
	}
}
