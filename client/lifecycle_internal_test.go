package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/lantern/internal/redistest"
	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/transport"
)

type countingConnector struct {
	transport.Connector
	connects atomic.Int32
}

func (c *countingConnector) Connect(ctx context.Context) (net.Conn, error) {
	c.connects.Add(1)
	return c.Connector.Connect(ctx)
}

var _ = Describe("handleFailure()", func() {
	var (
		server    *redistest.Server
		connector *countingConnector
		conn      *Conn
	)

	BeforeEach(func() {
		var err error
		server, err = redistest.NewTCPServer()
		Expect(err).To(Succeed())

		connector = &countingConnector{
			Connector: transport.NewConnector(transport.Options{Host: server.Host(), Port: server.Port()}),
		}

		conn = New(Options{Connector: connector, ReconnectDelay: 10 * time.Millisecond})
		conn.Start()
		Eventually(conn.IsConnected).Should(BeTrue())
	})

	AfterEach(func() {
		conn.Close()
		server.Close()
	})

	current := func() *transport.Stream {
		conn.mu.Lock()
		defer conn.mu.Unlock()

		return conn.stream
	}

	It("reconnects exactly once for concurrent failures of the same stream", func() {
		stream := current()
		Expect(stream).NotTo(BeNil())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conn.handleFailure(stream, errors.New("boom"))
			}()
		}
		wg.Wait()

		Eventually(conn.IsConnected).Should(BeTrue())
		Consistently(connector.connects.Load, 100*time.Millisecond).Should(BeEquivalentTo(2))
		Expect(current()).NotTo(BeIdenticalTo(stream))
	})

	It("ignores failures of a stream that was already replaced", func() {
		stale := current()
		conn.handleFailure(stale, errors.New("boom"))

		Eventually(func() bool {
			s := current()
			return s != nil && s != stale
		}).Should(BeTrue())

		conn.handleFailure(stale, errors.New("late"))

		Consistently(conn.IsConnected, 100*time.Millisecond).Should(BeTrue())
		Expect(connector.connects.Load()).To(BeEquivalentTo(2))
	})

	It("fails records of the dead stream without touching newer ones", func() {
		keyspace := redistest.NewKeyspace("")
		server.SetHandler(func(q protocol.Query) (protocol.Reply, bool) {
			if len(q) > 1 && string(q[1]) == "hang" {
				return protocol.Reply{}, false
			}
			return keyspace.Handle(q)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		hung := make(chan error, 1)
		go func() {
			_, err := conn.GetResultOfQuery(ctx, protocol.NewQuery(protocol.ECHO, "hang"), State)
			hung <- err
		}()

		Eventually(conn.PendingReplies).Should(Equal(1))

		conn.handleFailure(current(), errors.New("boom"))

		var err error
		Eventually(hung).Should(Receive(&err))
		Expect(errors.Is(err, ErrDisconnected)).To(BeTrue())

		Expect(conn.GetResultOfQuery(ctx, protocol.NewQuery(protocol.ECHO, "fresh"), State)).
			To(Equal(protocol.BulkString([]byte("fresh"))))
		Expect(conn.PendingReplies()).To(Equal(0))
	})
})

var _ = Describe("writeQueues", func() {
	It("pops the lowest priority first, FIFO within one", func() {
		w := newWriteQueues()
		a, b, c := &writeItem{}, &writeItem{}, &writeItem{}

		w.push(SyncConnection, c)
		w.push(State, a)
		w.push(State, b)

		for _, expected := range []*writeItem{a, b, c} {
			item, _, ok := w.pop()
			Expect(ok).To(BeTrue())
			Expect(item).To(BeIdenticalTo(expected))
		}

		_, _, ok := w.pop()
		Expect(ok).To(BeFalse())
	})

	It("skips suppressed priorities", func() {
		w := newWriteQueues()
		held, free := &writeItem{}, &writeItem{}

		w.push(Heartbeat, held)
		w.push(History, free)
		w.suppress(Heartbeat)

		item, p, ok := w.pop()
		Expect(ok).To(BeTrue())
		Expect(item).To(BeIdenticalTo(free))
		Expect(p).To(Equal(History))

		_, _, ok = w.pop()
		Expect(ok).To(BeFalse())

		Expect(w.unsuppress(Heartbeat)).To(BeTrue())
		Expect(w.unsuppress(Heartbeat)).To(BeFalse())

		item, _, ok = w.pop()
		Expect(ok).To(BeTrue())
		Expect(item).To(BeIdenticalTo(held))
	})
})

var _ = Describe("promise", func() {
	It("settles only once", func() {
		p := newPromise[int]()
		p.resolve(1)
		p.reject(errors.New("late"))
		p.resolve(2)

		Expect(p.wait(context.Background())).To(Equal(1))
	})
})

var _ = Describe("Priority", func() {
	It("parses names and numbers", func() {
		Expect(ParsePriority("state")).To(Equal(State))
		Expect(ParsePriority("CheckResult")).To(Equal(CheckResult))
		Expect(ParsePriority("sync_connection")).To(Equal(SyncConnection))
		Expect(ParsePriority("42")).To(Equal(Priority(42)))
		Expect(Priority(42).String()).To(Equal("priority_42"))

		_, err := ParsePriority("bogus")
		Expect(err).To(HaveOccurred())
	})

	It("lists the named classes in dispatch order", func() {
		for i := 1; i < len(Priorities); i++ {
			Expect(Priorities[i]).To(BeNumerically(">", Priorities[i-1]))
		}
	})
})
