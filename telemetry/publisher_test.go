package telemetry_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/internal/redistest"
	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
	"github.com/luma/lantern/telemetry"
)

func indexOf(commands []string, prefix string) int {
	for i, c := range commands {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}

	return -1
}

func count(commands []string, prefix string) int {
	n := 0
	for _, c := range commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}

	return n
}

var _ = Describe("Publisher", func() {
	var (
		server   *redistest.Server
		keyspace *redistest.Keyspace
		conn     *client.Conn
		status   *storage.StatusStore
	)

	BeforeEach(func() {
		var err error
		server, err = redistest.NewTCPServer()
		Expect(err).To(Succeed())

		keyspace = redistest.NewKeyspace("")
		server.SetHandler(keyspace.Handle)

		conn = client.New(client.Options{
			Host:           server.Host(),
			Port:           server.Port(),
			ReconnectDelay: 10 * time.Millisecond,
		})

		status = storage.NewStatusStore()
		Expect(status.Set("version", "v1.2.3")).To(Succeed())
		Expect(status.Set("queries", 7)).To(Succeed())
	})

	AfterEach(func() {
		conn.Close()
		server.Close()
	})

	newPublisher := func() *telemetry.Publisher {
		return telemetry.New(conn, telemetry.Options{
			Status:     status,
			Config:     map[string]string{"endpoint": "a", "node": "b"},
			RetryDelay: 10 * time.Millisecond,
		})
	}

	Describe("config dump", func() {
		It("writes the config once connected", func() {
			publisher := newPublisher()
			conn.Start()

			Eventually(publisher.DumpDone()).Should(BeClosed())
			Expect(keyspace.Hash("lantern:config")).To(Equal(map[string]string{"endpoint": "a", "node": "b"}))
			Expect(server.Commands()).To(ContainElement("HSET lantern:config endpoint a node b"))
		})

		It("holds back state and check results until it is done", func() {
			newPublisher()

			Expect(conn.IsSuppressed(client.State)).To(BeTrue())
			Expect(conn.IsSuppressed(client.CheckResult)).To(BeTrue())
			Expect(conn.IsSuppressed(client.History)).To(BeFalse())

			conn.FireAndForgetQuery(protocol.NewQuery(protocol.SET, "state", "1"), client.State)
			conn.FireAndForgetQuery(protocol.NewQuery(protocol.SET, "result", "1"), client.CheckResult)
			conn.Start()

			Eventually(server.Commands).Should(ContainElement("SET result 1"))

			commands := server.Commands()
			dump := indexOf(commands, "HSET lantern:config")
			Expect(dump).To(BeNumerically(">=", 0))
			Expect(indexOf(commands, "SET state")).To(BeNumerically(">", dump))
			Expect(indexOf(commands, "SET result")).To(BeNumerically(">", dump))

			Expect(conn.IsSuppressed(client.State)).To(BeFalse())
			Expect(conn.IsSuppressed(client.CheckResult)).To(BeFalse())
		})

		It("does not dump again after a reconnect", func() {
			publisher := newPublisher()
			conn.Start()
			Eventually(publisher.DumpDone()).Should(BeClosed())

			server.DropConnections()
			// the broken connection is noticed on its next use
			conn.FireAndForgetQuery(protocol.NewQuery(protocol.PING), client.Heartbeat)
			Eventually(server.Accepted).Should(Equal(2))
			Eventually(conn.IsConnected).Should(BeTrue())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(conn.Sync(ctx)).To(Succeed())

			Expect(count(server.Commands(), "DEL lantern:config")).To(Equal(1))
		})

		It("retries on the same connection after an error reply", func() {
			var failed atomic.Bool
			server.SetHandler(func(q protocol.Query) (protocol.Reply, bool) {
				if q.Command() == protocol.HSET && failed.CompareAndSwap(false, true) {
					return protocol.Error("ERR out of memory"), true
				}
				return keyspace.Handle(q)
			})

			publisher := newPublisher()
			conn.Start()

			Eventually(publisher.DumpDone()).Should(BeClosed())
			Expect(count(server.Commands(), "DEL lantern:config")).To(Equal(2))
			Expect(keyspace.Hash("lantern:config")).To(HaveKeyWithValue("node", "b"))
			Expect(server.Accepted()).To(Equal(1))
			Expect(conn.IsSuppressed(client.State)).To(BeFalse())
		})

		It("announces the dump on the stats stream before writing the config", func() {
			publisher := newPublisher()
			conn.Start()
			Eventually(publisher.DumpDone()).Should(BeClosed())

			commands := server.Commands()
			announce := indexOf(commands, "XADD lantern:stats")
			Expect(announce).To(BeNumerically(">=", 0))
			Expect(commands[announce]).To(ContainSubstring("config_dump_in_progress true"))
			Expect(announce).To(BeNumerically("<", indexOf(commands, "DEL lantern:config")))
		})
	})

	Describe("PublishStats()", func() {
		It("does nothing while disconnected", func() {
			publisher := newPublisher()
			Expect(publisher.PublishStats()).To(BeFalse())
		})

		It("adds the status to the stats stream", func() {
			publisher := newPublisher()
			conn.Start()
			Eventually(publisher.DumpDone()).Should(BeClosed())

			Expect(publisher.PublishStats()).To(BeTrue())

			// the first entry, queued while dumping, says the dump is in progress
			Eventually(func() int { return count(server.Commands(), "XADD lantern:stats") }).Should(Equal(2))
			Eventually(func() []string { return keyspace.LastEntry("lantern:stats") }).
				Should(ContainElement("false"))

			entry := keyspace.LastEntry("lantern:stats")
			Expect(entry).To(HaveLen(8))
			Expect(entry[:6]).To(Equal([]string{
				"version", `"v1.2.3"`,
				"queries", "7",
				"config_dump_in_progress", "false",
			}))
			Expect(entry[6]).To(Equal("timestamp"))
			Expect(entry[7]).To(MatchRegexp(`^\d{13}$`))

			Expect(server.Commands()).To(ContainElement(HavePrefix("XADD lantern:stats MAXLEN 1 * version")))
		})
	})

	Describe("Run()", func() {
		It("publishes every interval until cancelled", func() {
			publisher := telemetry.New(conn, telemetry.Options{
				Stream:   "custom:stats",
				Interval: 10 * time.Millisecond,
				Status:   status,
			})
			conn.Start()

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- publisher.Run(ctx) }()

			Eventually(func() int { return count(server.Commands(), "XADD custom:stats") }).
				Should(BeNumerically(">=", 3))

			cancel()
			Eventually(done).Should(Receive(MatchError(context.Canceled)))
		})
	})
})

// dumpConn is a Conn whose first config dump hangs until released.
type dumpConn struct {
	mu        sync.Mutex
	callback  client.Callback
	attempts  int
	release   chan error
	connected bool

	suppressed map[client.Priority]bool
}

func newDumpConn() *dumpConn {
	return &dumpConn{
		release:    make(chan error),
		suppressed: make(map[client.Priority]bool),
		connected:  true,
	}
}

func (d *dumpConn) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connected
}

func (d *dumpConn) FireAndForgetQuery(protocol.Query, client.Priority) {}

func (d *dumpConn) GetResultsOfQueries(ctx context.Context, qs []protocol.Query, _ client.Priority) ([]protocol.Reply, error) {
	d.mu.Lock()
	d.attempts++
	first := d.attempts == 1
	d.mu.Unlock()

	if first {
		select {
		case err := <-d.release:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	replies := make([]protocol.Reply, len(qs))
	for i := range replies {
		replies[i] = protocol.Integer(1)
	}

	return replies, nil
}

func (d *dumpConn) SuppressQueryKind(p client.Priority) {
	d.mu.Lock()
	d.suppressed[p] = true
	d.mu.Unlock()
}

func (d *dumpConn) UnsuppressQueryKind(p client.Priority) {
	d.mu.Lock()
	delete(d.suppressed, p)
	d.mu.Unlock()
}

func (d *dumpConn) isSuppressed(p client.Priority) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.suppressed[p]
}

func (d *dumpConn) SetConnectedCallback(cb client.Callback) {
	d.callback = cb
}

func (d *dumpConn) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.attempts
}

var _ = Describe("Publisher config dump across reconnects", func() {
	It("keeps retrying a dump that failed while a new connection came up", func() {
		conn := newDumpConn()
		publisher := telemetry.New(conn, telemetry.Options{RetryDelay: 10 * time.Millisecond})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Expect(conn.callback(ctx, nil)).To(Succeed())
		Eventually(conn.Attempts).Should(Equal(1))

		// the next connection comes up while the first dump is still waiting
		Expect(conn.callback(ctx, nil)).To(Succeed())

		conn.release <- client.ErrDisconnected

		Eventually(publisher.DumpDone()).Should(BeClosed())
		Expect(conn.Attempts()).To(Equal(2))
		Expect(conn.isSuppressed(client.State)).To(BeFalse())
		Expect(conn.isSuppressed(client.CheckResult)).To(BeFalse())
	})

	It("gives up once the connection is closed", func() {
		conn := newDumpConn()
		publisher := telemetry.New(conn, telemetry.Options{RetryDelay: 10 * time.Millisecond})

		ctx, cancel := context.WithCancel(context.Background())
		Expect(conn.callback(ctx, nil)).To(Succeed())
		Eventually(conn.Attempts).Should(Equal(1))

		cancel()

		Consistently(publisher.DumpDone(), 50*time.Millisecond).ShouldNot(BeClosed())
		Expect(conn.Attempts()).To(Equal(1))
		Expect(conn.isSuppressed(client.State)).To(BeTrue())
	})
})
