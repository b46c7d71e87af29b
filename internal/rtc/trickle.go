package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// trickle holds back local ICE candidates until our session description has
// been sent, so the peer never sees a candidate before the description it
// belongs to.
type trickle struct {
	send func(webrtc.ICECandidateInit)

	mu      sync.Mutex
	open    bool
	pending []webrtc.ICECandidateInit
}

func newTrickle(send func(webrtc.ICECandidateInit)) *trickle {
	return &trickle{send: send}
}

func (t *trickle) add(c webrtc.ICECandidateInit) {
	t.mu.Lock()
	if !t.open {
		t.pending = append(t.pending, c)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.send(c)
}

// release flushes held candidates and passes later ones straight through.
func (t *trickle) release() {
	t.mu.Lock()
	t.open = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range pending {
		t.send(c)
	}
}
