package rtc

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tablink/internal/conn"
	"github.com/1ureka/tablink/internal/signaling"
	"github.com/1ureka/tablink/internal/transport"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var loopback = Options{Transport: transport.Options{Loopback: true}}

func startRelay(t *testing.T) string {
	t.Helper()
	relay := signaling.NewRelay()
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// inbox collects payloads delivered to a connection.
type inbox chan []byte

func newInbox(c conn.Connection) inbox {
	in := make(inbox, 64)
	c.OnMessage(func(_ string, payload []byte) { in <- payload })
	return in
}

func (in inbox) next(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-in:
		return p
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

type disconnect struct {
	id  string
	err error
}

func watchDisconnect(c conn.Connection) chan disconnect {
	ch := make(chan disconnect, 4)
	c.OnDisconnect(func(id string, err error) { ch <- disconnect{id, err} })
	return ch
}

func waitDisconnect(t *testing.T, ch chan disconnect) disconnect {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(30 * time.Second):
		t.Fatal("no disconnect notification")
		return disconnect{}
	}
}

// responder is a started host-side connection plus what the test attached.
type responder struct {
	c      *Conn
	inbox  inbox
	closed chan disconnect
}

// startHub logs a hub in as "host" and serves it. Started responders are
// delivered on the returned channel.
func startHub(t *testing.T, ctx context.Context, url string) (*Hub, <-chan responder) {
	t.Helper()

	hub, err := Listen(ctx, url, "host", loopback)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { hub.Close() })

	out := make(chan responder, 4)
	go hub.Serve(ctx, func(c *Conn) {
		r := responder{c: c, inbox: newInbox(c), closed: watchDisconnect(c)}
		if err := c.Start(ctx); err != nil {
			return
		}
		out <- r
	})
	return hub, out
}

func nextResponder(t *testing.T, ch <-chan responder) responder {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(30 * time.Second):
		t.Fatal("no responder started")
		return responder{}
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNegotiateAndExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := startRelay(t)
	_, responders := startHub(t, ctx, url)

	alice := NewInitiator(url, "alice", "host", loopback)
	aliceIn := newInbox(alice)
	defer alice.Close()

	if err := alice.Start(ctx); err != nil {
		t.Fatalf("initiator Start: %v", err)
	}
	if s := alice.State(); s != StateDataChannelOpen {
		t.Fatalf("initiator state = %s, want DataChannelOpen", s)
	}
	if !alice.IsAlive() {
		t.Error("initiator not alive after Start")
	}

	host := nextResponder(t, responders)
	if s := host.c.State(); s != StateDataChannelOpen {
		t.Errorf("responder state = %s, want DataChannelOpen", s)
	}
	if host.c.Peer() != "alice" || host.c.Role() != RoleResponder {
		t.Errorf("responder peer=%q role=%s", host.c.Peer(), host.c.Role())
	}

	if err := alice.SendMessage("chat", []byte("hello gm")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := host.inbox.next(t); string(got) != "hello gm" {
		t.Errorf("host got %q", got)
	}

	// Incompressible and larger than one data-channel message, so it crosses
	// in many chunks.
	board := make([]byte, 1<<20)
	rand.New(rand.NewSource(1)).Read(board)
	if err := host.c.SendMessage("board", board); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := host.c.SendMessage("chat", []byte("welcome")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got := map[string]bool{}
	for len(got) < 2 {
		m := aliceIn.next(t)
		switch {
		case bytes.Equal(m, board):
			got["board"] = true
		case string(m) == "welcome":
			got["chat"] = true
		default:
			t.Fatalf("unexpected %d-byte message", len(m))
		}
	}
}

func TestCloseReportsOnBothSides(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := startRelay(t)
	hub, responders := startHub(t, ctx, url)

	alice := NewInitiator(url, "alice", "host", loopback)
	local := watchDisconnect(alice)
	if err := alice.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	host := nextResponder(t, responders)
	if hub.Responders() != 1 {
		t.Errorf("Responders() = %d, want 1", hub.Responders())
	}

	alice.Close()
	alice.Close()

	if d := waitDisconnect(t, local); d.err != nil || d.id != "alice" {
		t.Errorf("local disconnect = %+v, want alice with nil error", d)
	}
	if d := waitDisconnect(t, host.closed); d.err == nil {
		t.Error("remote disconnect carried no error")
	}

	select {
	case d := <-local:
		t.Errorf("second local notification %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
	if alice.IsAlive() {
		t.Error("IsAlive() true after Close")
	}
	if err := alice.SendMessage("", []byte("late")); !errors.Is(err, conn.ErrClosed) {
		t.Errorf("SendMessage after Close = %v, want ErrClosed", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.Responders() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Responders() != 0 {
		t.Errorf("Responders() = %d after disconnect, want 0", hub.Responders())
	}
}

// TestCandidateBeforeOffer: a candidate for a responder that does not exist
// yet is dropped, and the later negotiation still opens the channel.
func TestCandidateBeforeOffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := startRelay(t)
	hub, responders := startHub(t, ctx, url)

	idx := uint16(0)
	hub.dispatch(signaling.Message{
		Type:        signaling.MsgTypeCandidate,
		Source:      "alice",
		Destination: "host",
		Candidate: &webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 9 typ host",
			SDPMLineIndex: &idx,
		},
	})
	if n := hub.dropped.Load(); n != 1 {
		t.Fatalf("dropped = %d, want 1", n)
	}

	alice := NewInitiator(url, "alice", "host", loopback)
	defer alice.Close()
	if err := alice.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	host := nextResponder(t, responders)
	if host.c.State() != StateDataChannelOpen {
		t.Errorf("responder state = %s", host.c.State())
	}
}

func TestLoginRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := startRelay(t)
	startHub(t, ctx, url)

	impostor := NewInitiator(url, "host", "host", loopback)
	closed := watchDisconnect(impostor)

	err := impostor.Start(ctx)
	if !errors.Is(err, signaling.ErrLoginRejected) {
		t.Fatalf("Start = %v, want ErrLoginRejected", err)
	}
	if impostor.State() != StateFailed {
		t.Errorf("state = %s, want Failed", impostor.State())
	}
	if d := waitDisconnect(t, closed); !errors.Is(d.err, signaling.ErrLoginRejected) {
		t.Errorf("disconnect error = %v", d.err)
	}
	if err := impostor.Start(ctx); !errors.Is(err, conn.ErrClosed) {
		t.Errorf("Start after failure = %v, want ErrClosed", err)
	}
}

// TestNoAnswerTimesOut: offering to a peer nobody answers for fails once the
// negotiation timeout passes.
func TestNoAnswerTimesOut(t *testing.T) {
	url := startRelay(t)

	opts := loopback
	opts.NegotiationTimeout = 500 * time.Millisecond
	alice := NewInitiator(url, "alice", "nobody", opts)
	closed := watchDisconnect(alice)

	err := alice.Start(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start = %v, want deadline exceeded", err)
	}
	if d := waitDisconnect(t, closed); d.err == nil {
		t.Error("disconnect carried no error")
	}
}

func TestCloseDuringNegotiation(t *testing.T) {
	url := startRelay(t)
	alice := NewInitiator(url, "alice", "nobody", loopback)
	closed := watchDisconnect(alice)

	done := make(chan error, 1)
	go func() { done <- alice.Start(context.Background()) }()

	time.Sleep(200 * time.Millisecond)
	alice.Close()

	select {
	case err := <-done:
		if !errors.Is(err, conn.ErrClosed) {
			t.Errorf("Start = %v, want ErrClosed", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after Close")
	}
	if d := waitDisconnect(t, closed); d.err != nil {
		t.Errorf("disconnect error = %v, want nil for local close", d.err)
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingDataChannel.String() != "AwaitingDataChannel" {
		t.Errorf("String() = %q", StateAwaitingDataChannel.String())
	}
	if State(99).String() != "State(99)" {
		t.Errorf("String() = %q", State(99).String())
	}
}
