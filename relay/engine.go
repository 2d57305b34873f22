package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shazow/rateio"
	"github.com/shazow/tchat/metrics"
)

// The error returned when a peer is handed to an engine that is closed.
var ErrEngineClosed = errors.New("engine closed")

const defaultHandoffBuffer = 16

// Config tunes the engine loop.
type Config struct {
	// PollInterval is how long a cycle waits for a new peer before polling
	// the registered ones.
	PollInterval time.Duration
	// HandoffBuffer is the capacity of the hand-off channel.
	HandoffBuffer int
	// PruneDead removes peers whose transport closed after a failed read.
	// Without it dead peers stay registered forever.
	PruneDead bool
	// RateLimit and RateWindow cap lines per peer. Zero disables.
	RateLimit  int
	RateWindow time.Duration
	// StatsInterval is how often a summary line is logged. Zero disables.
	StatsInterval time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Millisecond,
		HandoffBuffer: defaultHandoffBuffer,
		RateWindow:    3 * time.Second,
	}
}

// Engine relays lines between peers. One goroutine runs Serve; other
// goroutines only call Handoff and Close.
type Engine struct {
	config   Config
	registry *Registry
	metrics  *metrics.Metrics
	inbox    chan Peer
	timer    *time.Timer

	started time.Time
	stats   struct {
		messages   uint64
		deliveries uint64
		lastLog    time.Time
	}

	// handoffMu orders hand-off sends against the final drain in shutdown.
	handoffMu sync.Mutex
	running   atomic.Bool
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewEngine creates an engine with an empty registry.
func NewEngine(config Config) *Engine {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.HandoffBuffer <= 0 {
		config.HandoffBuffer = defaultHandoffBuffer
	}

	registry := NewRegistry()
	if config.RateLimit > 0 && config.RateWindow > 0 {
		amount, window := config.RateLimit, config.RateWindow
		registry.RateLimit = func() rateio.Limiter {
			return rateio.NewSimpleLimiter(amount, window)
		}
	}

	timer := time.NewTimer(config.PollInterval)
	timer.Stop()

	now := time.Now()
	e := &Engine{
		config:   config,
		registry: registry,
		inbox:    make(chan Peer, config.HandoffBuffer),
		timer:    timer,
		started:  now,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	e.stats.lastLog = now
	return e
}

// SetMetrics attaches collectors. Call before Serve.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Registry returns the engine's registry. Only the goroutine driving the
// engine may use it.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Handoff passes a newly accepted peer to the engine, blocking while the
// hand-off channel is full. A peer accepted here is closed by the engine
// even if the engine shuts down before registering it.
func (e *Engine) Handoff(p Peer) error {
	e.handoffMu.Lock()
	defer e.handoffMu.Unlock()

	select {
	case <-e.done:
		return ErrEngineClosed
	default:
	}

	select {
	case e.inbox <- p:
		return nil
	case <-e.done:
		return ErrEngineClosed
	}
}

// Serve runs relay cycles until Close is called, then closes every peer.
func (e *Engine) Serve() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer close(e.stopped)
	defer e.shutdown()

	for {
		select {
		case <-e.done:
			return
		default:
		}
		e.cycle(true)
	}
}

// Step runs exactly one cycle without waiting for new peers. It must not be
// called while Serve is running.
func (e *Engine) Step() {
	e.cycle(false)
}

// Close stops the engine and closes all peers. It waits for Serve to return
// if it is running.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	if e.running.CompareAndSwap(false, true) {
		// Serve never ran; nobody else owns the registry.
		e.shutdown()
		close(e.stopped)
	}
	<-e.stopped
	return nil
}

func (e *Engine) cycle(wait bool) {
	e.drain(wait)

	batch, err := e.registry.Poll()
	e.report(err)
	e.stats.messages += uint64(len(batch))
	e.metrics.Received(len(batch))

	if e.config.PruneDead {
		e.prune()
	}

	delivered, err := e.registry.Broadcast(batch)
	e.report(err)
	e.stats.deliveries += uint64(delivered)
	e.metrics.Delivered(delivered)

	e.logStats()
}

// drain moves the peers waiting in the hand-off channel into the registry.
// With wait set, it first waits up to PollInterval for one to arrive, or
// indefinitely when there is nothing to poll.
func (e *Engine) drain(wait bool) {
	if wait {
		var timeout <-chan time.Time
		if e.registry.Len() > 0 {
			e.timer.Reset(e.config.PollInterval)
			timeout = e.timer.C
		}
		select {
		case p := <-e.inbox:
			e.admit(p)
		case <-timeout:
		case <-e.done:
			return
		}
	}

	for n := len(e.inbox); n > 0; n-- {
		select {
		case p := <-e.inbox:
			e.admit(p)
		default:
			return
		}
	}
}

func (e *Engine) admit(p Peer) {
	replaced := e.registry.Add(p)
	if replaced != nil && replaced != p {
		logger.Warningf("Identity %d collided, replacing the registered peer", p.ID())
		replaced.Close()
	}
	logger.Debugf("Registered peer %d (%d registered)", p.ID(), e.registry.Len())
	e.metrics.SetPeers(e.registry.Len())
}

func (e *Engine) prune() {
	dead := []uint64{}
	e.registry.Each(func(id uint64, p Peer) error {
		if p.Closed() {
			dead = append(dead, id)
		}
		return nil
	})
	for _, id := range dead {
		e.registry.Remove(id)
		logger.Debugf("Pruned peer %d", id)
	}
	if len(dead) > 0 {
		e.metrics.SetPeers(e.registry.Len())
	}
}

func (e *Engine) report(err error) {
	if err == nil {
		return
	}
	var errs MultiError
	if !errors.As(err, &errs) {
		errs = MultiError{err}
	}

	for _, err := range errs {
		op := "unknown"
		var peerErr *PeerError
		if errors.As(err, &peerErr) {
			op = peerErr.Op
		}
		e.metrics.Error(op)

		switch {
		case op == "ratelimit":
			e.metrics.RateLimited()
			logger.Infof("Dropped message: %s", err)
		case errors.Is(err, io.EOF):
			logger.Infof("Disconnected: %s", err)
		case errors.Is(err, net.ErrClosed):
			// Dead peers stay registered unless pruned, don't flood.
			logger.Debugf("%s", err)
		default:
			logger.Warningf("%s", err)
		}
	}
}

func (e *Engine) logStats() {
	if e.config.StatsInterval <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(e.stats.lastLog) < e.config.StatsInterval {
		return
	}
	e.stats.lastLog = now
	logger.Infof("Relaying since %s: %s peers, %s messages, %s deliveries",
		humanize.Time(e.started),
		humanize.Comma(int64(e.registry.Len())),
		humanize.Comma(int64(e.stats.messages)),
		humanize.Comma(int64(e.stats.deliveries)),
	)
}

func (e *Engine) shutdown() {
	closers := MultiCloser{}
	e.registry.Each(func(id uint64, p Peer) error {
		closers = append(closers, p)
		return nil
	})

	// done is closed by now, so no Handoff can queue after this drain.
	e.handoffMu.Lock()
	for n := len(e.inbox); n > 0; n-- {
		select {
		case p := <-e.inbox:
			closers = append(closers, p)
		default:
		}
	}
	e.handoffMu.Unlock()

	if err := closers.Close(); err != nil {
		logger.Debugf("Closing peers: %s", err)
	}
	e.registry = NewRegistry()
	e.metrics.SetPeers(0)
}
