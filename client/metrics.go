package client

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

type connMetrics struct {
	set *metrics.Set

	queriesWritten  *metrics.Counter
	repliesRead     *metrics.Counter
	writeFailures   *metrics.Counter
	readFailures    *metrics.Counter
	connectFailures *metrics.Counter
	reconnects      *metrics.Counter
	failedRequests  *metrics.Counter
}

// Each Conn gets its own set, so several connections can live in one process.
func newConnMetrics(c *Conn) *connMetrics {
	set := metrics.NewSet()

	m := &connMetrics{
		set:             set,
		queriesWritten:  set.NewCounter("lantern_redis_queries_written_total"),
		repliesRead:     set.NewCounter("lantern_redis_replies_read_total"),
		writeFailures:   set.NewCounter("lantern_redis_write_failures_total"),
		readFailures:    set.NewCounter("lantern_redis_read_failures_total"),
		connectFailures: set.NewCounter("lantern_redis_connect_failures_total"),
		reconnects:      set.NewCounter("lantern_redis_reconnects_total"),
		failedRequests:  set.NewCounter("lantern_redis_failed_requests_total"),
	}

	set.NewGauge("lantern_redis_connected", func() float64 {
		if c.IsConnected() {
			return 1
		}
		return 0
	})

	set.NewGauge("lantern_redis_pending_replies", func() float64 {
		return float64(c.PendingReplies())
	})

	for _, p := range Priorities {
		p := p
		name := fmt.Sprintf(`lantern_redis_pending_writes{priority=%q}`, p.String())
		set.NewGauge(name, func() float64 {
			return float64(c.Pending(p))
		})
	}

	return m
}

// pendingCounter returns the counter of queued items for p, creating it on
// first use. Callers on any goroutine may use it without holding c.mu.
func (c *Conn) pendingCounter(p Priority) *xsync.Counter {
	counter, _ := c.pending.LoadOrCompute(p, func() *xsync.Counter {
		return xsync.NewCounter()
	})

	return counter
}

// Pending returns the number of items queued at priority p and not yet
// dispatched.
func (c *Conn) Pending(p Priority) int64 {
	if counter, ok := c.pending.Load(p); ok {
		return counter.Value()
	}

	return 0
}

// PendingReplies returns the number of queries written whose replies
// haven't been read yet.
func (c *Conn) PendingReplies() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pendingReplies
}

// WritePrometheus writes the connection's metrics in Prometheus text format.
func (c *Conn) WritePrometheus(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}
