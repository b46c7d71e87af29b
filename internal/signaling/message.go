// Package signaling implements the WebSocket control link used to negotiate
// data channels: a relay that forwards JSON messages between logged-in
// peers, and the client each peer uses to talk to it.
package signaling

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeLogin     MessageType = "login"
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is the JSON structure exchanged over the WebSocket. Source is
// filled in by the relay from the sender's login name.
type Message struct {
	Type        MessageType                `json:"type"`
	Source      string                     `json:"source,omitempty"`
	Destination string                     `json:"destination,omitempty"`
	Success     bool                       `json:"success,omitempty"` // login replies only
	Offer       *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer      *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

var (
	// ErrLoginRejected is returned when the relay refuses a login because the
	// name is already taken.
	ErrLoginRejected = errors.New("login rejected: name already taken")

	// ErrNotLoggedIn is returned by Send before a successful Login.
	ErrNotLoggedIn = errors.New("not logged in")
)
