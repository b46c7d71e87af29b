// Package rtc implements the data-channel backend. A negotiation state
// machine establishes the channel through the signaling relay; after that the
// channel is adapted into a byte stream with two pipes and a drain goroutine
// so the shared conn.Core loops run on it unchanged.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tablink/internal/conn"
	"github.com/1ureka/tablink/internal/signaling"
	"github.com/1ureka/tablink/internal/transport"
)

// Compile-time interface check.
var _ conn.Connection = (*Conn)(nil)

const (
	DefaultInboundPipeSize    = 64 * 1024 * 1024
	DefaultOutboundPipeSize   = 1024 * 1024
	DefaultNegotiationTimeout = 30 * time.Second

	// openPollInterval bounds each wait of the drain goroutine while the
	// data channel is not open.
	openPollInterval = 50 * time.Millisecond
)

// Lifecycle states.
const (
	stateCreated int32 = iota
	stateStarted
	stateClosed
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("connection already started")

// Options configure a data-channel connection.
type Options struct {
	conn.Options

	Transport transport.Options

	// InboundPipeSize bounds bytes received but not yet read as frames.
	// Exceeding it is fatal (ErrPipeOverflow).
	InboundPipeSize int

	// OutboundPipeSize bounds bytes written but not yet drained to the
	// channel. Writers block while it is full.
	OutboundPipeSize int

	// NegotiationTimeout bounds Start's negotiation phase.
	NegotiationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.InboundPipeSize <= 0 {
		o.InboundPipeSize = DefaultInboundPipeSize
	}
	if o.OutboundPipeSize <= 0 {
		o.OutboundPipeSize = DefaultOutboundPipeSize
	}
	if o.NegotiationTimeout <= 0 {
		o.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return o
}

// Conn is a connection over a negotiated data channel. Initiators come from
// NewInitiator, responders from a Hub.
type Conn struct {
	*conn.Core

	role Role
	peer string // the remote login name
	opts Options

	tr  atomic.Pointer[transport.Transport]
	sig atomic.Pointer[signaling.Client] // initiator only, until the channel opens

	in, out *Pipe

	negotiate func(ctx context.Context) error

	state     atomic.Int32 // State
	lifecycle atomic.Int32
	unwatch   atomic.Pointer[func() bool]
}

func newConn(id string, role Role, peer string, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		role: role,
		peer: peer,
		opts: opts,
		in:   NewPipe(opts.InboundPipeSize),
		out:  NewPipe(opts.OutboundPipeSize),
	}
	c.Core = conn.NewCore(id, opts.Options, c.teardown)
	return c
}

// Role returns the negotiation role.
func (c *Conn) Role() Role { return c.role }

// Peer returns the remote side's login name.
func (c *Conn) Peer() string { return c.peer }

// State returns the current negotiation state.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.Log().Debug("%s: %s", c.role, s)
}

// attach adopts tr as this connection's transport and feeds its inbound
// messages into the inbound pipe. The pion callback never blocks: a full
// pipe fails the connection instead.
func (c *Conn) attach(tr *transport.Transport) {
	c.tr.Store(tr)
	tr.OnMessage(func(data []byte) {
		if err := c.in.Offer(data); err != nil {
			if errors.Is(err, ErrPipeOverflow) {
				go c.Fail(fmt.Errorf("receive %d bytes: %w", len(data), err))
			}
		}
	})
	if c.Stopped() {
		// Close raced with negotiation.
		tr.Close()
	}
}

// Start negotiates the data channel, bounded by the negotiation timeout, and
// then launches the send, receive and drain goroutines. Negotiation failures
// are reported through OnDisconnect as well as returned. Cancelling ctx later
// closes the connection.
func (c *Conn) Start(ctx context.Context) error {
	if !c.lifecycle.CompareAndSwap(stateCreated, stateStarted) {
		if c.lifecycle.Load() == stateClosed {
			return conn.ErrClosed
		}
		return ErrAlreadyStarted
	}

	nctx, cancel := context.WithTimeout(ctx, c.opts.NegotiationTimeout)
	err := c.negotiate(nctx)
	cancel()
	if err != nil {
		if c.Stopped() {
			return conn.ErrClosed
		}
		failedAt := c.State()
		c.state.Store(int32(StateFailed))
		if tr := c.tr.Load(); tr != nil {
			c.Log().Debug("negotiation failed at %s, peer connection %s", failedAt, tr.ConnectionState())
		}
		err = fmt.Errorf("negotiation (%s): %w", c.role, err)
		c.Fail(err)
		return err
	}

	unwatch := context.AfterFunc(ctx, func() { c.Close() })
	c.unwatch.Store(&unwatch)
	if c.Stopped() {
		unwatch()
		return conn.ErrClosed
	}

	tr := c.tr.Load()
	go c.SendLoop(c.out)
	go c.ReceiveLoop(c.in)
	go c.drain(tr)
	go c.watch(tr)

	c.Log().Debug("started (%s with %q)", c.role, c.peer)
	return nil
}

// await blocks until gate closes. It fails early if the transport dies, the
// signaling link drops, the connection is closed or ctx expires.
func (c *Conn) await(ctx context.Context, gate <-chan struct{}, tr *transport.Transport, sigErr <-chan error) error {
	select {
	case <-gate:
		return nil
	case <-tr.Done():
		return tr.Err()
	case err := <-sigErr:
		return fmt.Errorf("signaling link lost: %w", err)
	case <-c.Done():
		return conn.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyCandidate adds a remote candidate. Failures are logged, never fatal.
func (c *Conn) applyCandidate(cand *webrtc.ICECandidateInit) {
	tr := c.tr.Load()
	if tr == nil || cand == nil {
		c.Log().Warning("candidate from %q dropped: no peer connection", c.peer)
		return
	}
	if err := tr.AddICECandidate(*cand); err != nil {
		c.Log().Warning("add candidate from %q: %v", c.peer, err)
	}
}

// drain moves bytes from the outbound pipe to the data channel. It waits in
// bounded polls while the channel is not open and sends at most
// transport.MaxMessageSize bytes per message, pausing on backpressure.
func (c *Conn) drain(tr *transport.Transport) {
	for {
		select {
		case <-c.out.Readable():
		case <-c.Done():
			return
		}

		for {
			if !c.waitOpen(tr) {
				return
			}
			chunk := c.out.Drain(transport.MaxMessageSize)
			if chunk == nil {
				break
			}
			if !tr.WaitWritable(c.Done()) {
				return
			}
			if err := tr.Send(chunk); err != nil {
				c.Fail(fmt.Errorf("data channel send: %w", err))
				return
			}
		}
	}
}

// waitOpen polls until the data channel is open. It returns false once the
// connection or the transport is done.
func (c *Conn) waitOpen(tr *transport.Transport) bool {
	for !tr.IsOpen() {
		select {
		case <-c.Done():
			return false
		case <-tr.Done():
			return false
		case <-time.After(openPollInterval):
		}
	}
	return true
}

// watch turns the transport going down into a disconnect.
func (c *Conn) watch(tr *transport.Transport) {
	select {
	case <-tr.Done():
		if !c.Stopped() {
			c.Fail(tr.Err())
		}
	case <-c.Done():
	}
}

// Close tears the connection down, including a negotiation in progress.
// Only the first call has an effect.
func (c *Conn) Close() error {
	c.Fail(nil)
	return nil
}

// IsAlive reports whether the data channel is open and the connection has
// not been closed.
func (c *Conn) IsAlive() bool {
	if c.Stopped() {
		return false
	}
	tr := c.tr.Load()
	return tr != nil && tr.IsOpen()
}

// teardown is run once by conn.Core on the first Fail.
func (c *Conn) teardown() error {
	c.lifecycle.Store(stateClosed)
	if unwatch := c.unwatch.Load(); unwatch != nil {
		(*unwatch)()
	}
	c.in.CloseWithError(io.EOF)
	c.out.CloseWithError(conn.ErrClosed)

	var errs []error
	if sig := c.sig.Swap(nil); sig != nil {
		errs = append(errs, sig.Close())
	}
	if tr := c.tr.Load(); tr != nil {
		errs = append(errs, tr.Close())
	}
	return errors.Join(errs...)
}
