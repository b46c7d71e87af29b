// Package conn defines the transport-independent connection contract and the
// Core shared by every backend: listener registries, frame read/write
// primitives, the send and receive loops, and single-shot disconnect
// reporting.
package conn

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/tablink/internal/mux"
)

// Direction of a transfer reported to activity listeners.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Phase of a single frame transfer.
type Phase uint8

const (
	PhaseStart Phase = iota
	PhaseProgress
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseProgress:
		return "progress"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// MessageListener receives every decoded inbound payload.
type MessageListener func(id string, payload []byte)

// ActivityListener receives transfer progress for each frame. total is the
// frame size on the wire (length prefix excluded), progress the bytes moved
// so far. Listeners run on the transferring goroutine, outside any lock, and
// may close the connection.
type ActivityListener func(dir Direction, phase Phase, total, progress int)

// DisconnectListener is called exactly once per connection. err is nil when
// the connection was closed locally.
type DisconnectListener func(id string, err error)

// Connection is the contract both transports present to the application.
type Connection interface {
	// ID returns the opaque connection identity.
	ID() string

	// Start launches the connection's goroutines. It returns once they run;
	// failures after that point are reported through OnDisconnect.
	Start(ctx context.Context) error

	// SendMessage queues payload on channel. Messages on the same channel
	// are delivered in order.
	SendMessage(channel string, payload []byte) error

	OnMessage(fn MessageListener)
	OnActivity(fn ActivityListener)
	OnDisconnect(fn DisconnectListener)

	// IsAlive reports whether the underlying link is open.
	IsAlive() bool

	// Close tears the connection down. Safe to call repeatedly and from any
	// goroutine; only the first call has an effect.
	Close() error
}

var (
	// ErrClosed is returned by SendMessage after the connection stopped.
	ErrClosed = errors.New("connection closed")

	// ErrFrameTooLarge is returned by SendMessage for a payload whose frame
	// would exceed the configured maximum, and by ReadFrame for such a length
	// prefix.
	ErrFrameTooLarge = mux.ErrFrameTooLarge
)
