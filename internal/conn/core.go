package conn

import (
	"sync"
	"sync/atomic"

	"github.com/1ureka/tablink/internal/mux"
	"github.com/1ureka/tablink/internal/protocol"
	"github.com/1ureka/tablink/internal/util"
)

// DefaultMaxFrameSize bounds the frames a connection sends and accepts.
const DefaultMaxFrameSize = 64 * 1024 * 1024

// Options tune a Core. The zero value is usable.
type Options struct {
	Codec        *protocol.Codec // nil means protocol.Default
	MaxFrameSize int             // 0 means DefaultMaxFrameSize
}

// Core is embedded by every transport backend. It owns the outbound
// multiplexer and the listener registries and turns any fatal condition into
// exactly one disconnect notification.
type Core struct {
	id       string
	codec    *protocol.Codec
	mux      *mux.Multiplexer
	maxFrame int
	log      util.Logger

	// teardown releases the backend's link (socket, pipes, data channel).
	// It runs once, on the first Fail.
	teardown func() error

	mu         sync.RWMutex
	onMessage  []MessageListener
	onActivity []ActivityListener
	onClose    []DisconnectListener

	stopped  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	failed   atomic.Bool

	// writeMu is held around every write to the link. Fail takes it after
	// teardown so that nothing is written once Close has returned.
	writeMu sync.Mutex
}

// NewCore creates a Core for connection id. teardown is called once when the
// connection stops, whether by Close or by a failure in one of its loops.
func NewCore(id string, opts Options, teardown func() error) *Core {
	codec := opts.Codec
	if codec == nil {
		codec = protocol.Default
	}
	maxFrame := opts.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Core{
		id:       id,
		codec:    codec,
		mux:      mux.New(codec, maxFrame),
		maxFrame: maxFrame,
		log:      util.For(id),
		teardown: teardown,
		stop:     make(chan struct{}),
	}
}

// ID returns the connection identity.
func (c *Core) ID() string { return c.id }

// Log returns the connection-scoped logger.
func (c *Core) Log() util.Logger { return c.log }

// SendMessage compresses payload and queues it on channel.
func (c *Core) SendMessage(channel string, payload []byte) error {
	if c.stopped.Load() {
		return ErrClosed
	}
	return c.mux.Enqueue(channel, payload)
}

// ---------------------------------------------------------------------------
// Listeners
// ---------------------------------------------------------------------------

func (c *Core) OnMessage(fn MessageListener) {
	c.mu.Lock()
	c.onMessage = append(c.onMessage, fn)
	c.mu.Unlock()
}

func (c *Core) OnActivity(fn ActivityListener) {
	c.mu.Lock()
	c.onActivity = append(c.onActivity, fn)
	c.mu.Unlock()
}

func (c *Core) OnDisconnect(fn DisconnectListener) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// NotifyActivity fans a progress event out to the activity listeners.
func (c *Core) NotifyActivity(dir Direction, phase Phase, total, progress int) {
	c.mu.RLock()
	listeners := c.onActivity
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(dir, phase, total, progress)
	}
}

// Dispatch hands a decoded payload to every message listener, in
// registration order, on the calling goroutine.
func (c *Core) Dispatch(payload []byte) {
	c.mu.RLock()
	listeners := c.onMessage
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(c.id, payload)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed once the connection stops.
func (c *Core) Done() <-chan struct{} { return c.stop }

// Stopped reports whether a stop was requested.
func (c *Core) Stopped() bool { return c.stopped.Load() }

// requestStop marks the connection as stopping and wakes every loop waiting
// on Done, including a send loop that has nothing to send.
func (c *Core) requestStop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stop)
	})
}

// Fail stops the connection and reports the disconnect. Only the first call
// tears down and notifies; later calls are logged and dropped, so listeners
// never see duplicate or contradictory notifications. Pass nil for a local
// close. Fail may be called from a listener, including a disconnect listener.
func (c *Core) Fail(err error) {
	c.requestStop()

	if !c.failed.CompareAndSwap(false, true) {
		if err != nil {
			c.log.Debug("suppressed after disconnect: %v", err)
		}
		c.barrier()
		return
	}

	if c.teardown != nil {
		if terr := c.teardown(); terr != nil {
			c.log.Debug("teardown: %v", terr)
		}
	}
	c.barrier()

	if err != nil {
		c.log.Warning("disconnected: %v", err)
	} else {
		c.log.Debug("closed")
	}

	c.mu.RLock()
	listeners := c.onClose
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(c.id, err)
	}
}

// barrier waits out any write that started before the stop. Writes check
// Stopped under writeMu, so none can begin afterwards.
func (c *Core) barrier() {
	c.writeMu.Lock()
	c.writeMu.Unlock()
}
