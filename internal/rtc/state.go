package rtc

import "fmt"

// State is a negotiation step. Initiators walk SignalingConnected through
// Connected, responders OfferReceived through AwaitingDataChannel, and both
// end in DataChannelOpen or Failed.
type State int32

const (
	StateNew State = iota

	// Initiator.
	StateSignalingConnected
	StateLoggedIn
	StateOfferCreated
	StateOfferSent
	StateAnswerReceived
	StateConnected

	// Responder.
	StateOfferReceived
	StateAnswerCreated
	StateAnswerSent
	StateAwaitingDataChannel

	StateDataChannelOpen
	StateFailed
)

var stateNames = [...]string{
	StateNew:                 "New",
	StateSignalingConnected:  "SignalingConnected",
	StateLoggedIn:            "LoggedIn",
	StateOfferCreated:        "OfferCreated",
	StateOfferSent:           "OfferSent",
	StateAnswerReceived:      "AnswerReceived",
	StateConnected:           "Connected",
	StateOfferReceived:       "OfferReceived",
	StateAnswerCreated:       "AnswerCreated",
	StateAnswerSent:          "AnswerSent",
	StateAwaitingDataChannel: "AwaitingDataChannel",
	StateDataChannelOpen:     "DataChannelOpen",
	StateFailed:              "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Role tells which side of the negotiation a connection plays.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}
