package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tablink/internal/signaling"
	"github.com/1ureka/tablink/internal/transport"
)

// NewInitiator returns an unstarted connection that, on Start, logs in to
// the relay at relayURL as self and negotiates a data channel with peer.
// The signaling link is closed once the channel is open.
func NewInitiator(relayURL, self, peer string, opts Options) *Conn {
	c := newConn(self, RoleInitiator, peer, opts)
	c.negotiate = func(ctx context.Context) error {
		return c.runInitiator(ctx, relayURL, self)
	}
	return c
}

// runInitiator walks SignalingConnected → LoggedIn → OfferCreated →
// OfferSent → AnswerReceived → Connected → DataChannelOpen.
func (c *Conn) runInitiator(ctx context.Context, relayURL, self string) error {
	sig, err := signaling.Dial(ctx, relayURL)
	if err != nil {
		return err
	}
	c.sig.Store(sig)
	if c.Stopped() {
		sig.Close()
		return fmt.Errorf("closed while dialing relay")
	}
	c.setState(StateSignalingConnected)

	if err := sig.Login(ctx, self); err != nil {
		return err
	}
	c.setState(StateLoggedIn)

	tr, err := transport.New(c.opts.Transport)
	if err != nil {
		return err
	}
	c.attach(tr)

	candidates := newTrickle(func(cand webrtc.ICECandidateInit) {
		if err := sig.Send(signaling.Message{
			Type:        signaling.MsgTypeCandidate,
			Destination: c.peer,
			Candidate:   &cand,
		}); err != nil {
			c.Log().Debug("send candidate: %v", err)
		}
	})
	tr.OnICECandidate(candidates.add)

	offer, err := tr.CreateOffer()
	if err != nil {
		return err
	}
	c.setState(StateOfferCreated)

	// Start reading before the offer goes out so the answer cannot be missed.
	answered := make(chan error, 1)
	sigErr := make(chan error, 1)
	go func() {
		sigErr <- sig.Listen(func(m signaling.Message) {
			c.handleInitiatorMessage(tr, m, answered)
		})
	}()

	if err := sig.Send(signaling.Message{
		Type:        signaling.MsgTypeOffer,
		Destination: c.peer,
		Offer:       &offer,
	}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	c.setState(StateOfferSent)
	candidates.release()

	select {
	case err := <-answered:
		if err != nil {
			return err
		}
	case <-tr.Done():
		return tr.Err()
	case err := <-sigErr:
		return fmt.Errorf("signaling link lost: %w", err)
	case <-c.Done():
		return fmt.Errorf("closed while awaiting answer")
	case <-ctx.Done():
		return fmt.Errorf("awaiting answer: %w", ctx.Err())
	}
	c.setState(StateAnswerReceived)

	if err := c.await(ctx, tr.Connected(), tr, sigErr); err != nil {
		return fmt.Errorf("awaiting connection: %w", err)
	}
	c.setState(StateConnected)

	if err := c.await(ctx, tr.Ready(), tr, sigErr); err != nil {
		return fmt.Errorf("awaiting data channel: %w", err)
	}
	c.setState(StateDataChannelOpen)

	// The relay is only needed to negotiate.
	if sig := c.sig.Swap(nil); sig != nil {
		sig.Close()
	}
	return nil
}

// handleInitiatorMessage applies the answer and candidates from our peer.
// It runs on the signaling read goroutine.
func (c *Conn) handleInitiatorMessage(tr *transport.Transport, m signaling.Message, answered chan<- error) {
	if m.Source != c.peer {
		c.Log().Warning("signaling %s from unexpected peer %q dropped", m.Type, m.Source)
		return
	}

	switch m.Type {
	case signaling.MsgTypeAnswer:
		if m.Answer == nil {
			c.Log().Warning("answer without session description dropped")
			return
		}
		err := tr.SetRemoteDescription(*m.Answer)
		select {
		case answered <- err:
		default:
			c.Log().Warning("duplicate answer from %q ignored", m.Source)
		}

	case signaling.MsgTypeCandidate:
		c.applyCandidate(m.Candidate)

	default:
		c.Log().Debug("signaling %s ignored by initiator", m.Type)
	}
}
