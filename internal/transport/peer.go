package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers are the STUN servers used when none are configured. No
// TURN: participants are expected to reach the host directly.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Options configure the peer connection.
type Options struct {
	// ICEServers lists STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string

	// Loopback includes 127.0.0.1 candidates, for same-machine sessions and
	// tests.
	Loopback bool
}

// newPeerConnection creates a PeerConnection for opts.
func newPeerConnection(opts Options) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: opts.ICEServers},
		}
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(opts.Loopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// newDataChannel creates the pre-negotiated data channel (ID 0) carrying the
// frame stream. Negotiated mode lets both sides create the channel without
// waiting for OnDataChannel. The channel is ordered and reliable because it
// carries one contiguous byte stream.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("frames", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
