// Package mux implements the per-connection outbound channel multiplexer:
// one FIFO queue of compressed frames per channel key, served round-robin.
package mux

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/tablink/internal/protocol"
)

// DefaultChannel is the key used when the caller does not name a channel.
const DefaultChannel = ""

// ErrFrameTooLarge is returned by Enqueue when a compressed payload exceeds
// the multiplexer's frame limit.
var ErrFrameTooLarge = errors.New("frame too large")

// Encoder compresses a payload into a frame body. *protocol.Codec satisfies it.
type Encoder interface {
	Encode(payload []byte) ([]byte, error)
}

// Multiplexer holds the outbound queues of a single connection.
//
// The scheduling order is a queue of distinct channel keys. A key is in the
// order if and only if its queue is non-empty, so every channel with pending
// frames is served exactly once per pass and an idle channel never holds a
// turn.
type Multiplexer struct {
	enc      Encoder
	maxFrame int // 0 means unlimited

	mu     sync.Mutex
	queues map[string]*list.List // channel → [][]byte frames, created lazily
	order  *list.List            // channel keys, head is served next
	queued map[string]bool       // channel is present in order
	frames int

	signal chan struct{}
}

// New creates an empty multiplexer that compresses with enc. A nil enc uses
// protocol.Default. Frames larger than maxFrame bytes are refused; 0 means
// no limit.
func New(enc Encoder, maxFrame int) *Multiplexer {
	if enc == nil {
		enc = protocol.Default
	}
	return &Multiplexer{
		enc:      enc,
		maxFrame: maxFrame,
		queues: make(map[string]*list.List),
		order:  list.New(),
		queued: make(map[string]bool),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue compresses payload and appends the frame to channel's queue. The
// payload is not retained. Compression happens outside the lock so a large
// payload does not stall the send loop.
func (m *Multiplexer) Enqueue(channel string, payload []byte) error {
	frame, err := m.enc.Encode(payload)
	if err != nil {
		return err
	}
	if m.maxFrame > 0 && len(frame) > m.maxFrame {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(frame), m.maxFrame)
	}

	m.mu.Lock()
	q, ok := m.queues[channel]
	if !ok {
		q = list.New()
		m.queues[channel] = q
	}
	q.PushBack(frame)
	m.frames++
	if !m.queued[channel] {
		m.queued[channel] = true
		m.order.PushBack(channel)
	}
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// HasPending reports whether any channel has a frame waiting.
func (m *Multiplexer) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames > 0
}

// Pending returns the total number of queued frames.
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// DequeueNext pops the oldest frame of the channel whose turn it is. If that
// channel still has frames it goes to the back of the order. The boolean is
// false when nothing is pending.
func (m *Multiplexer) DequeueNext() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := m.order.Front()
	if head == nil {
		return nil, false
	}
	channel := m.order.Remove(head).(string)

	q := m.queues[channel]
	frame := q.Remove(q.Front()).([]byte)
	m.frames--

	if q.Len() > 0 {
		m.order.PushBack(channel)
	} else {
		delete(m.queued, channel)
	}
	return frame, true
}

// Signal returns a channel that receives a value after every successful
// Enqueue. It is buffered with capacity one, so bursts coalesce into a single
// wake-up; consumers must drain with DequeueNext until it reports false.
func (m *Multiplexer) Signal() <-chan struct{} {
	return m.signal
}
