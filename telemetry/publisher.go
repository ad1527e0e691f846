// Package telemetry publishes this process' status to Redis: a heartbeat
// entry on a capped stream every interval and, once per process, a dump of
// the configuration. Until the dump went through, state and check result
// updates are held back so readers never see state without its config.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
)

const (
	DefaultStream   = "lantern:stats"
	DefaultPrefix   = "lantern:"
	DefaultInterval = time.Second

	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
)

// Conn is the part of *client.Conn the publisher needs.
type Conn interface {
	IsConnected() bool
	FireAndForgetQuery(q protocol.Query, p client.Priority)
	GetResultsOfQueries(ctx context.Context, qs []protocol.Query, p client.Priority) ([]protocol.Reply, error)
	SuppressQueryKind(p client.Priority)
	UnsuppressQueryKind(p client.Priority)
	SetConnectedCallback(cb client.Callback)
}

type Options struct {
	// Stream is the key stats are XADDed to
	Stream string

	// Prefix of the config hash key, which is <Prefix>config
	Prefix string

	Interval time.Duration

	// RetryDelay is the wait before retrying a failed config dump. It doubles
	// with every failure up to DefaultMaxRetryDelay.
	RetryDelay time.Duration

	// Status is published as is with every heartbeat
	Status storage.Store

	// Config is written to the config hash once
	Config map[string]string

	Log *zap.Logger
}

type Publisher struct {
	conn    Conn
	options Options
	log     *zap.Logger

	mu                   sync.Mutex
	configDumpInProgress bool
	configDumpDone       bool

	// dumpDone is closed once the config dump succeeded
	dumpDone chan struct{}
}

// held back until the config dump finished
var suppressedUntilDump = []client.Priority{client.State, client.CheckResult}

// New creates a Publisher and registers it as the connected callback of conn.
// It has to be called before conn is started.
func New(conn Conn, options Options) *Publisher {
	if options.Stream == "" {
		options.Stream = DefaultStream
	}
	if options.Prefix == "" {
		options.Prefix = DefaultPrefix
	}
	if options.Interval <= 0 {
		options.Interval = DefaultInterval
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DefaultRetryDelay
	}
	if options.Status == nil {
		options.Status = storage.NewStatusStore()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	p := &Publisher{
		conn:     conn,
		options:  options,
		log:      log.Named("telemetry"),
		dumpDone: make(chan struct{}),
	}

	for _, prio := range suppressedUntilDump {
		conn.SuppressQueryKind(prio)
	}

	conn.SetConnectedCallback(p.onConnected)

	return p
}

// Run publishes stats every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			p.PublishStats()
		}
	}
}

// PublishStats queues the status document as a new entry of the stats
// stream. It does nothing while disconnected and reports whether it queued
// anything.
func (p *Publisher) PublishStats() bool {
	if !p.conn.IsConnected() {
		return false
	}

	p.publish()

	return true
}

// publish queues a stats entry regardless of the connection state, it goes
// out first thing once connected.
func (p *Publisher) publish() {
	p.mu.Lock()
	inProgress := p.configDumpInProgress
	p.mu.Unlock()

	args := []string{p.options.Stream, "MAXLEN", "1", "*"}

	p.options.Status.ForEach(func(key string, value gjson.Result) bool {
		args = append(args, key, value.Raw)
		return true
	})

	args = append(args,
		"config_dump_in_progress", strconv.FormatBool(inProgress),
		"timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	p.conn.FireAndForgetQuery(protocol.NewQuery(protocol.XADD, args...), client.Heartbeat)
}

// DumpDone is closed once the config was written.
func (p *Publisher) DumpDone() <-chan struct{} {
	return p.dumpDone
}

// onConnected runs on the connection's I/O path, the dump itself has to go
// through the queues so it only gets scheduled here. A dump already running
// keeps retrying by itself.
func (p *Publisher) onConnected(ctx context.Context, _ client.IO) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.configDumpInProgress || p.configDumpDone {
		return nil
	}

	p.configDumpInProgress = true

	go p.dumpConfig(ctx)

	return nil
}

// dumpConfig writes the config until it succeeds or ctx is done, then lets
// state and check results through.
func (p *Publisher) dumpConfig(ctx context.Context) {
	// the connection isn't installed yet, Heartbeat goes out ahead of the dump
	p.publish()

	start := time.Now()
	delay := p.options.RetryDelay

	for attempt := 1; ; attempt++ {
		err := p.writeConfig(ctx)
		if err == nil {
			break
		}

		if ctx.Err() != nil || errors.Is(err, client.ErrClosed) {
			p.abandonDump()
			return
		}

		p.log.Error("Config dump failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", delay))

		select {
		case <-ctx.Done():
			p.abandonDump()
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > DefaultMaxRetryDelay {
			delay = DefaultMaxRetryDelay
		}
	}

	p.mu.Lock()
	p.configDumpInProgress = false
	p.configDumpDone = true
	p.mu.Unlock()

	p.log.Info("Config dump done", zap.Duration("took", time.Since(start)))

	close(p.dumpDone)

	for _, prio := range suppressedUntilDump {
		p.conn.UnsuppressQueryKind(prio)
	}
}

// abandonDump lets the next connection start the dump over.
func (p *Publisher) abandonDump() {
	p.mu.Lock()
	p.configDumpInProgress = false
	p.mu.Unlock()
}

func (p *Publisher) writeConfig(ctx context.Context) error {
	key := p.options.Prefix + "config"
	queries := []protocol.Query{protocol.NewQuery(protocol.DEL, key)}

	if len(p.options.Config) > 0 {
		fields := make([]string, 0, len(p.options.Config))
		for field := range p.options.Config {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		args := make([]string, 0, 2*len(fields)+1)
		args = append(args, key)
		for _, field := range fields {
			args = append(args, field, p.options.Config[field])
		}

		queries = append(queries, protocol.NewQuery(protocol.HSET, args...))
	}

	replies, err := p.conn.GetResultsOfQueries(ctx, queries, client.Config)
	if err != nil {
		return err
	}

	for i, reply := range replies {
		if err := reply.ErrorOrNil(); err != nil {
			return fmt.Errorf("%s failed: %w", queries[i].Command(), err)
		}
	}

	return nil
}
