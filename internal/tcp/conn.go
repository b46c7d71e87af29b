// Package tcp implements the stream-socket backend: one send goroutine and
// one receive goroutine per connection, both running the shared conn.Core
// loops directly on the socket.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/1ureka/tablink/internal/conn"
	"github.com/1ureka/tablink/internal/util"
)

// Compile-time interface check.
var _ conn.Connection = (*Conn)(nil)

// Connection states.
const (
	stateCreated int32 = iota
	stateStarted
	stateClosed
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("connection already started")

// Options configure a socket connection.
type Options struct {
	conn.Options

	// ID overrides the identity derived from the socket 4-tuple.
	ID string

	// Handshake runs before the loops start. nil means NoHandshake.
	Handshake Handshake

	// HandshakeTimeout bounds the handshake when ctx carries no deadline.
	HandshakeTimeout time.Duration
}

// Conn is a connection over a net.Conn (normally TCP).
type Conn struct {
	*conn.Core

	sock      net.Conn
	handshake Handshake
	hsTimeout time.Duration

	state   atomic.Int32
	alive   atomic.Bool
	unwatch atomic.Pointer[func() bool] // detaches the ctx watcher set up by Start
}

// New wraps an established socket. The connection does nothing until Start.
func New(sock net.Conn, opts Options) *Conn {
	id := opts.ID
	if id == "" {
		id = util.ConnIDFromConn(sock)
	}
	hs := opts.Handshake
	if hs == nil {
		hs = NoHandshake
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Conn{
		sock:      sock,
		handshake: hs,
		hsTimeout: timeout,
	}
	c.alive.Store(true)
	c.Core = conn.NewCore(id, opts.Options, c.teardown)
	return c
}

// Dial connects to addr and wraps the socket.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	sock, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return New(sock, opts), nil
}

// Start runs the handshake and launches the send and receive goroutines.
// Cancelling ctx later closes the connection.
func (c *Conn) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateCreated, stateStarted) {
		if c.state.Load() == stateClosed {
			return conn.ErrClosed
		}
		return ErrAlreadyStarted
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.hsTimeout)
	}
	c.sock.SetDeadline(deadline)
	if err := c.handshake(c.sock); err != nil {
		err = fmt.Errorf("handshake: %w", err)
		c.Fail(err)
		return err
	}
	c.sock.SetDeadline(time.Time{})

	unwatch := context.AfterFunc(ctx, func() { c.Close() })
	c.unwatch.Store(&unwatch)
	if c.Stopped() {
		unwatch()
	}

	go c.SendLoop(c.sock)
	go c.ReceiveLoop(c.sock)

	c.Log().Debug("started (%s ↔ %s)", c.sock.LocalAddr(), c.sock.RemoteAddr())
	return nil
}

// Close stops both loops and closes the socket. Only the first call has an
// effect, and a peer that already hung up is not an error.
func (c *Conn) Close() error {
	c.Fail(nil)
	return nil
}

// IsAlive reports whether the socket is still open.
func (c *Conn) IsAlive() bool {
	return c.alive.Load()
}

// RemoteAddr returns the peer's socket address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// teardown is run once by conn.Core on the first Fail.
func (c *Conn) teardown() error {
	c.alive.Store(false)
	c.state.Store(stateClosed)
	if unwatch := c.unwatch.Load(); unwatch != nil {
		(*unwatch)()
	}
	if err := c.sock.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
