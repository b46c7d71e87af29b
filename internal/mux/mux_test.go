package mux_test

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/tablink/internal/mux"
	"github.com/1ureka/tablink/internal/protocol"
)

// identity leaves payloads uncompressed so tests can read frames directly.
type identity struct{}

func (identity) Encode(p []byte) ([]byte, error) { return append([]byte(nil), p...), nil }

// failing rejects every payload.
type failing struct{}

var errEncode = errors.New("encode failed")

func (failing) Encode([]byte) ([]byte, error) { return nil, errEncode }

// drain dequeues everything and returns the frames as strings.
func drain(m *mux.Multiplexer) []string {
	var out []string
	for {
		frame, ok := m.DequeueNext()
		if !ok {
			return out
		}
		out = append(out, string(frame))
	}
}

func mustEnqueue(t *testing.T, m *mux.Multiplexer, channel string, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if err := m.Enqueue(channel, []byte(p)); err != nil {
			t.Fatalf("Enqueue(%q, %q) failed: %v", channel, p, err)
		}
	}
}

func TestDequeueEmpty(t *testing.T) {
	m := mux.New(identity{}, 0)

	if m.HasPending() {
		t.Fatal("new multiplexer reports pending frames")
	}
	if frame, ok := m.DequeueNext(); ok || frame != nil {
		t.Fatalf("DequeueNext on empty = (%v, %v), want (nil, false)", frame, ok)
	}
}

// TestInterleaveTwoChannels: a1,a2 on A then b1 on B must go out as a1,b1,a2.
func TestInterleaveTwoChannels(t *testing.T) {
	m := mux.New(identity{}, 0)
	mustEnqueue(t, m, "A", "a1", "a2")
	mustEnqueue(t, m, "B", "b1")

	got := drain(m)
	want := []string{"a1", "b1", "a2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("wire order = %v, want %v", got, want)
	}
}

// TestInterleaveLateEnqueue: a channel that becomes non-empty after
// the first dequeue still gets its turn before A is served twice.
func TestInterleaveLateEnqueue(t *testing.T) {
	m := mux.New(identity{}, 0)
	mustEnqueue(t, m, "A", "a1", "a2", "a3")

	first, _ := m.DequeueNext()
	mustEnqueue(t, m, "B", "b1")

	got := append([]string{string(first)}, drain(m)...)
	want := []string{"a1", "a2", "b1", "a3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("wire order = %v, want %v", got, want)
	}
}

func TestPerChannelFIFO(t *testing.T) {
	m := mux.New(identity{}, 0)
	channels := []string{"", "cursor", "assets", "chat"}

	for i := 0; i < 50; i++ {
		for _, c := range channels {
			mustEnqueue(t, m, c, fmt.Sprintf("%s/%03d", c, i))
		}
	}

	next := make(map[string]int)
	for _, frame := range drain(m) {
		var c string
		var i int
		if idx := bytes.LastIndexByte([]byte(frame), '/'); idx >= 0 {
			c = frame[:idx]
			fmt.Sscanf(frame[idx+1:], "%d", &i)
		}
		if i != next[c] {
			t.Fatalf("channel %q: got message %d, want %d", c, i, next[c])
		}
		next[c]++
	}
	for _, c := range channels {
		if next[c] != 50 {
			t.Errorf("channel %q: delivered %d messages, want 50", c, next[c])
		}
	}
}

// TestFairness: while two channels both have frames, no channel is served
// twice in a row.
func TestFairness(t *testing.T) {
	m := mux.New(identity{}, 0)
	mustEnqueue(t, m, "A", "a", "a", "a", "a", "a")
	mustEnqueue(t, m, "B", "b", "b", "b")

	got := drain(m)
	want := []string{"a", "b", "a", "b", "a", "b", "a", "a"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("wire order = %v, want %v", got, want)
	}
}

// TestBulkDoesNotDelayControl: a small control message enqueued behind
// several bulk frames is sent after at most one of them.
func TestBulkDoesNotDelayControl(t *testing.T) {
	m := mux.New(identity{}, 0)
	bulk := bytes.Repeat([]byte{0xAB}, 10*1024*1024)

	for i := 0; i < 3; i++ {
		if err := m.Enqueue("bulk", bulk); err != nil {
			t.Fatalf("Enqueue bulk: %v", err)
		}
	}
	mustEnqueue(t, m, "control", "0123456789")

	bulkBefore := 0
	for {
		frame, ok := m.DequeueNext()
		if !ok {
			t.Fatal("control frame never dequeued")
		}
		if string(frame) == "0123456789" {
			break
		}
		bulkBefore++
	}
	if bulkBefore > 1 {
		t.Errorf("control frame waited behind %d bulk frames, want at most 1", bulkBefore)
	}
}

func TestEnqueueCompressesWithCodec(t *testing.T) {
	m := mux.New(nil, 0)
	payload := bytes.Repeat([]byte("dice "), 1000)

	if err := m.Enqueue(mux.DefaultChannel, payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	frame, ok := m.DequeueNext()
	if !ok {
		t.Fatal("no frame dequeued")
	}
	if len(frame) >= len(payload) {
		t.Errorf("frame not compressed: %d bytes for %d byte payload", len(frame), len(payload))
	}

	decoded, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Error("decoded frame differs from payload")
	}
}

func TestEnqueueEncodeError(t *testing.T) {
	m := mux.New(failing{}, 0)

	if err := m.Enqueue("A", []byte("x")); !errors.Is(err, errEncode) {
		t.Fatalf("Enqueue error = %v, want %v", err, errEncode)
	}
	if m.HasPending() {
		t.Error("failed enqueue left a pending frame")
	}
	select {
	case <-m.Signal():
		t.Error("failed enqueue raised the signal")
	default:
	}
}

func TestEnqueueRejectsOversizedFrame(t *testing.T) {
	m := mux.New(identity{}, 8)

	if err := m.Enqueue("A", []byte("123456789")); !errors.Is(err, mux.ErrFrameTooLarge) {
		t.Fatalf("Enqueue error = %v, want ErrFrameTooLarge", err)
	}
	if m.HasPending() {
		t.Error("oversized enqueue left a pending frame")
	}

	mustEnqueue(t, m, "A", "12345678")
	if got := drain(m); len(got) != 1 || got[0] != "12345678" {
		t.Errorf("frames = %v, want [12345678]", got)
	}
}

func TestSignalRaisedOnEnqueue(t *testing.T) {
	m := mux.New(identity{}, 0)

	select {
	case <-m.Signal():
		t.Fatal("signal raised before any enqueue")
	default:
	}

	mustEnqueue(t, m, "A", "a1", "a2")

	select {
	case <-m.Signal():
	case <-time.After(time.Second):
		t.Fatal("signal not raised after enqueue")
	}
	if m.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", m.Pending())
	}
}

// TestConcurrentEnqueueDequeue runs producers against a consumer and checks
// that every frame arrives once and in per-channel order.
func TestConcurrentEnqueueDequeue(t *testing.T) {
	m := mux.New(identity{}, 0)
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			channel := fmt.Sprintf("ch%d", p)
			for i := 0; i < perProducer; i++ {
				if err := m.Enqueue(channel, []byte(fmt.Sprintf("%s/%d", channel, i))); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	next := make(map[string]int)
	total := 0
	for total < producers*perProducer {
		frame, ok := m.DequeueNext()
		if !ok {
			select {
			case <-m.Signal():
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("stalled after %d frames", total)
			}
			continue
		}
		var channel string
		var i int
		s := string(frame)
		idx := bytes.LastIndexByte(frame, '/')
		channel = s[:idx]
		fmt.Sscanf(s[idx+1:], "%d", &i)
		if i != next[channel] {
			t.Fatalf("channel %s: got %d, want %d", channel, i, next[channel])
		}
		next[channel]++
		total++
	}

	if m.HasPending() {
		t.Error("frames left after draining")
	}
}
