// Package app contains the top-level orchestration for host and client roles.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/1ureka/tablink/internal/config"
	"github.com/1ureka/tablink/internal/conn"
	"github.com/1ureka/tablink/internal/rtc"
	"github.com/1ureka/tablink/internal/signaling"
	"github.com/1ureka/tablink/internal/tcp"
	"github.com/1ureka/tablink/internal/util"
)

// largeTransfer is the frame size from which completed transfers are logged.
const largeTransfer = 1024 * 1024

// Host accepts participants over the configured transport and keeps a table
// of their connections.
type Host struct {
	cfg *config.Config

	mu    sync.RWMutex
	conns map[string]conn.Connection

	listenersMu sync.Mutex
	onMessage   []conn.MessageListener
	onJoin      []func(conn.Connection)

	ready chan struct{}
	addr  string // TCP listen address or relay URL, set before ready closes
}

// NewHost creates a host for cfg. Call Run to start accepting.
func NewHost(cfg *config.Config) *Host {
	return &Host{
		cfg:   cfg,
		conns: make(map[string]conn.Connection),
		ready: make(chan struct{}),
	}
}

// OnMessage registers a listener attached to every participant connection
// accepted afterwards. Call it before Run.
func (h *Host) OnMessage(fn conn.MessageListener) {
	h.listenersMu.Lock()
	h.onMessage = append(h.onMessage, fn)
	h.listenersMu.Unlock()
}

// OnJoin registers a callback invoked once a participant's connection is
// started.
func (h *Host) OnJoin(fn func(conn.Connection)) {
	h.listenersMu.Lock()
	h.onJoin = append(h.onJoin, fn)
	h.listenersMu.Unlock()
}

// Ready is closed once the host accepts participants.
func (h *Host) Ready() <-chan struct{} { return h.ready }

// Addr returns the TCP listen address or the relay URL. Valid after Ready.
func (h *Host) Addr() string { return h.addr }

// Run accepts participants until ctx is cancelled, then closes every
// connection.
func (h *Host) Run(ctx context.Context) error {
	defer h.closeAll()

	switch h.cfg.Transport {
	case config.TransportTCP:
		return h.runTCP(ctx)
	case config.TransportWebRTC:
		return h.runWebRTC(ctx)
	default:
		return fmt.Errorf("unknown transport %q", h.cfg.Transport)
	}
}

func (h *Host) runTCP(ctx context.Context) error {
	opts, err := tcpOptions(h.cfg)
	if err != nil {
		return err
	}

	l, err := tcp.Listen(h.cfg.Listen, opts)
	if err != nil {
		return err
	}
	defer l.Close()

	h.addr = l.Addr().String()
	close(h.ready)

	return l.Serve(ctx, func(c *tcp.Conn) { h.adopt(ctx, c) })
}

func (h *Host) runWebRTC(ctx context.Context) error {
	opts, err := rtcOptions(h.cfg)
	if err != nil {
		return err
	}

	url := h.cfg.WSURL
	if h.cfg.WSListen != "" {
		relay := signaling.NewRelay()
		if _, err := relay.Start(h.cfg.WSListen); err != nil {
			return err
		}
		defer relay.Close()
		url = relay.URL()
	}

	hub, err := rtc.Listen(ctx, url, h.cfg.HostID, opts)
	if err != nil {
		return err
	}
	defer hub.Close()

	h.addr = url
	close(h.ready)

	return hub.Serve(ctx, func(c *rtc.Conn) { h.adopt(ctx, c) })
}

// adopt registers c in the table, attaches the host's listeners and starts
// it. A connection that fails to start is reported through its own
// disconnect listener and leaves the table again.
func (h *Host) adopt(ctx context.Context, c conn.Connection) {
	id := c.ID()

	h.listenersMu.Lock()
	for _, fn := range h.onMessage {
		c.OnMessage(fn)
	}
	onJoin := h.onJoin
	h.listenersMu.Unlock()

	c.OnActivity(func(dir conn.Direction, phase conn.Phase, total, _ int) {
		if phase == conn.PhaseComplete && total >= largeTransfer {
			util.LogDebug("[%s] %s frame of %d bytes done", id, dir, total)
		}
	})

	c.OnDisconnect(func(id string, err error) {
		h.mu.Lock()
		if h.conns[id] == c {
			delete(h.conns, id)
		}
		h.mu.Unlock()
		util.Stats.RemoveConn()

		if err != nil {
			util.LogWarning("[%s] participant left: %v", id, err)
		} else {
			util.LogInfo("[%s] participant closed", id)
		}
	})

	h.mu.Lock()
	old := h.conns[id]
	h.conns[id] = c
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
	util.Stats.AddConn()

	if err := c.Start(ctx); err != nil {
		return
	}
	util.LogSuccess("[%s] participant joined", id)

	for _, fn := range onJoin {
		fn(c)
	}
}

// Connection returns the participant with the given id.
func (h *Host) Connection(id string) (conn.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Connections returns the ids of all participants, sorted.
func (h *Host) Connections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast queues payload on channel for every participant and returns how
// many accepted it.
func (h *Host) Broadcast(channel string, payload []byte) int {
	return h.BroadcastExcept("", channel, payload)
}

// BroadcastExcept is Broadcast skipping the participant with id except.
func (h *Host) BroadcastExcept(except, channel string, payload []byte) int {
	h.mu.RLock()
	targets := make([]conn.Connection, 0, len(h.conns))
	for id, c := range h.conns {
		if id != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.SendMessage(channel, payload); err != nil {
			util.LogDebug("[%s] broadcast skipped: %v", c.ID(), err)
			continue
		}
		sent++
	}
	return sent
}

func (h *Host) closeAll() {
	h.mu.RLock()
	conns := make([]conn.Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
