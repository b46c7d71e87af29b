package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tablink/internal/signaling"
	"github.com/1ureka/tablink/internal/transport"
	"github.com/1ureka/tablink/internal/util"
)

// Hub is the host side of the negotiation. It stays logged in to the relay
// and creates one responder Conn per offering peer.
type Hub struct {
	sig  *signaling.Client
	opts Options

	mu         sync.Mutex
	responders map[string]*Conn // by peer login name

	handle  func(*Conn)
	dropped atomic.Int64 // candidates that arrived before their offer
}

// Listen connects to the relay at relayURL and logs in as name.
func Listen(ctx context.Context, relayURL, name string, opts Options) (*Hub, error) {
	sig, err := signaling.Dial(ctx, relayURL)
	if err != nil {
		return nil, err
	}
	if err := sig.Login(ctx, name); err != nil {
		sig.Close()
		return nil, err
	}
	return newHub(sig, opts), nil
}

func newHub(sig *signaling.Client, opts Options) *Hub {
	return &Hub{
		sig:        sig,
		opts:       opts,
		responders: make(map[string]*Conn),
	}
}

// Name returns the hub's login name.
func (h *Hub) Name() string { return h.sig.Name() }

// Serve reads signaling messages until ctx is cancelled or the relay link
// drops. Each accepted offer becomes an unstarted responder handed to handle
// on its own goroutine; handle registers listeners and calls Start, which
// completes the negotiation. Serve returns nil on a normal shutdown.
func (h *Hub) Serve(ctx context.Context, handle func(*Conn)) error {
	h.handle = handle

	stop := context.AfterFunc(ctx, func() { h.sig.Close() })
	defer stop()

	util.LogInfo("waiting for offers as %q", h.sig.Name())

	err := h.sig.Listen(h.dispatch)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close leaves the relay and closes every responder.
func (h *Hub) Close() error {
	err := h.sig.Close()

	h.mu.Lock()
	responders := make([]*Conn, 0, len(h.responders))
	for _, c := range h.responders {
		responders = append(responders, c)
	}
	h.mu.Unlock()

	for _, c := range responders {
		c.Close()
	}
	return err
}

// Responders returns the number of live responders.
func (h *Hub) Responders() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.responders)
}

func (h *Hub) dispatch(m signaling.Message) {
	switch m.Type {
	case signaling.MsgTypeOffer:
		h.accept(m)

	case signaling.MsgTypeCandidate:
		h.mu.Lock()
		c := h.responders[m.Source]
		h.mu.Unlock()

		if c == nil {
			h.dropped.Add(1)
			util.LogWarning("candidate from %q before its offer dropped", m.Source)
			return
		}
		c.applyCandidate(m.Candidate)

	default:
		util.LogDebug("signaling %s from %q ignored by hub", m.Type, m.Source)
	}
}

// accept creates the responder's peer connection and applies the offer
// synchronously, so candidates read right after it find the peer connection
// in place.
func (h *Hub) accept(m signaling.Message) {
	if m.Offer == nil {
		util.LogWarning("offer from %q without session description dropped", m.Source)
		return
	}

	c := newConn(m.Source, RoleResponder, m.Source, h.opts)
	tr, err := transport.New(h.opts.Transport)
	if err != nil {
		util.LogError("responder for %q: %v", m.Source, err)
		return
	}
	c.attach(tr)

	if err := tr.SetRemoteDescription(*m.Offer); err != nil {
		util.LogWarning("offer from %q rejected: %v", m.Source, err)
		tr.Close()
		return
	}
	c.setState(StateOfferReceived)
	c.negotiate = func(ctx context.Context) error {
		return h.runResponder(ctx, c, tr)
	}

	h.mu.Lock()
	old := h.responders[m.Source]
	h.responders[m.Source] = c
	h.mu.Unlock()
	if old != nil {
		util.LogInfo("%q offered again, replacing its connection", m.Source)
		old.Close()
	}

	c.OnDisconnect(func(string, error) {
		h.mu.Lock()
		if h.responders[m.Source] == c {
			delete(h.responders, m.Source)
		}
		h.mu.Unlock()
	})

	if h.handle != nil {
		go h.handle(c)
	}
}

// runResponder walks AnswerCreated → AnswerSent → AwaitingDataChannel →
// DataChannelOpen.
func (h *Hub) runResponder(ctx context.Context, c *Conn, tr *transport.Transport) error {
	candidates := newTrickle(func(cand webrtc.ICECandidateInit) {
		if err := h.sig.Send(signaling.Message{
			Type:        signaling.MsgTypeCandidate,
			Destination: c.peer,
			Candidate:   &cand,
		}); err != nil {
			c.Log().Debug("send candidate: %v", err)
		}
	})
	tr.OnICECandidate(candidates.add)

	answer, err := tr.CreateAnswer()
	if err != nil {
		return err
	}
	c.setState(StateAnswerCreated)

	if err := h.sig.Send(signaling.Message{
		Type:        signaling.MsgTypeAnswer,
		Destination: c.peer,
		Answer:      &answer,
	}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	c.setState(StateAnswerSent)
	candidates.release()

	c.setState(StateAwaitingDataChannel)
	if err := c.await(ctx, tr.Ready(), tr, nil); err != nil {
		return fmt.Errorf("awaiting data channel: %w", err)
	}
	c.setState(StateDataChannelOpen)
	return nil
}
