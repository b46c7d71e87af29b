// Package transport wraps a single pion PeerConnection plus its data channel,
// exposing the signaling steps, open/close gates and backpressure-aware
// sending used by the WebRTC connection backend.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tablink/internal/util"
)

const (
	HighWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	LowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this

	// MaxMessageSize is the largest buffer passed to a single Send. It stays
	// within what every data channel implementation accepts.
	MaxMessageSize = 16 * 1024
)

var (
	// ErrChannelClosed is reported when the data channel closes.
	ErrChannelClosed = errors.New("data channel closed")

	// ErrPeerFailed is reported when the peer connection fails.
	ErrPeerFailed = errors.New("peer connection failed")
)

// Transport wraps a PeerConnection and a pre-negotiated DataChannel.
//
// Its lifecycle is governed by the DataChannel and the PeerConnection state:
// it is done once the channel closes or the connection fails, whichever
// happens first.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal      chan struct{}
	connectedSignal chan struct{}
	doneSignal      chan struct{}
	drainSignal     chan struct{}

	openOnce, connectedOnce, doneOnce sync.Once

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	err     error
}

// New creates a Transport backed by a new PeerConnection and a pre-negotiated
// DataChannel. The caller drives signaling through CreateOffer / CreateAnswer
// / SetRemoteDescription / AddICECandidate and waits on Ready.
func New(opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	t := &Transport{
		pc:              pc,
		dc:              dc,
		openSignal:      make(chan struct{}),
		connectedSignal: make(chan struct{}),
		doneSignal:      make(chan struct{}),
		drainSignal:     make(chan struct{}, 1),
		pcState:         webrtc.PeerConnectionStateNew,
	}

	dc.OnOpen(func() {
		t.openOnce.Do(func() { close(t.openSignal) })
	})

	dc.OnClose(func() {
		util.LogDebug("data channel closed")
		t.finish(ErrChannelClosed)
	})

	dc.OnError(func(err error) {
		t.finish(fmt.Errorf("data channel: %w", err))
	})

	dc.SetBufferedAmountLowThreshold(uint64(LowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case t.drainSignal <- struct{}{}:
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer connection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			t.connectedOnce.Do(func() { close(t.connectedSignal) })
		case webrtc.PeerConnectionStateFailed:
			t.finish(ErrPeerFailed)
		case webrtc.PeerConnectionStateClosed:
			t.finish(ErrChannelClosed)
		}
	})

	return t, nil
}

// finish records the first terminal error and closes the done gate.
func (t *Transport) finish(err error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.doneSignal)
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready is closed when the DataChannel opens.
func (t *Transport) Ready() <-chan struct{} { return t.openSignal }

// Connected is closed when the PeerConnection reaches the connected state.
func (t *Transport) Connected() <-chan struct{} { return t.connectedSignal }

// Done is closed when the DataChannel closes or the PeerConnection fails.
func (t *Transport) Done() <-chan struct{} { return t.doneSignal }

// Err returns why the transport is done, or nil while it is not.
func (t *Transport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// IsOpen reports whether the DataChannel is currently open.
func (t *Transport) IsOpen() bool {
	return t.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// Close shuts down the DataChannel and PeerConnection.
func (t *Transport) Close() error {
	t.finish(ErrChannelClosed)
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer and applies it as the local description.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer generates an SDP answer and applies it as the local
// description. The remote offer must already be set.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// OnICECandidate registers a callback invoked for every gathered local ICE
// candidate. The end-of-gathering nil candidate is not forwarded.
func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// OnMessage registers a callback for every inbound DataChannel message. It
// runs on pion's goroutine and must not block.
func (t *Transport) OnMessage(fn func([]byte)) {
	t.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// WaitWritable blocks while the DataChannel's buffered amount is above the
// high-water mark. It returns false if stop closes or the transport is done
// first.
func (t *Transport) WaitWritable(stop <-chan struct{}) bool {
	for t.dc.BufferedAmount() > uint64(HighWaterMark) {
		select {
		case <-t.drainSignal:
		case <-stop:
			return false
		case <-t.doneSignal:
			return false
		}
	}
	return true
}

// Send writes one message to the DataChannel.
func (t *Transport) Send(data []byte) error {
	return t.dc.Send(data)
}
