package domain

type Action string

const (
	ActionCall      Action = "call"
	ActionAccept    Action = "accept"
	ActionDecline   Action = "decline"
	ActionOffer     Action = "offer"
	ActionAnswer    Action = "answer"
	ActionCandidate Action = "candidate"
	ActionEndCall   Action = "end-call"
	ActionPing      Action = "ping"
	ActionPong      Action = "pong"

	ActionConnectionSuccess Action = "connection_success"
	ActionError             Action = "error"
)

// SessionActions are the signaling frame types that may race ahead of a call
// session and so are buffered until a session handler attaches.
var SessionActions = []Action{
	ActionOffer,
	ActionAnswer,
	ActionCandidate,
	ActionEndCall,
	ActionAccept,
	ActionDecline,
}

type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is a session description as carried on the wire.
type Description struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

func (d *Description) Valid() bool {
	return d != nil && d.Type != "" && d.SDP != ""
}

// Candidate is an ICE candidate in its JSON wire form.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is a signaling frame, outbound or inbound. The backend adds Sender
// (and Caller on call notifications) when it forwards a frame.
type Signal struct {
	Action          Action       `json:"action"`
	Recipient       Identity     `json:"recipient,omitempty"`
	Sender          Identity     `json:"sender,omitempty"`
	Caller          Identity     `json:"caller,omitempty"`
	RecipientOnline *bool        `json:"recipient_online,omitempty"`
	Offer           *Description `json:"offer,omitempty"`
	Answer          *Description `json:"answer,omitempty"`
	Candidate       *Candidate   `json:"candidate,omitempty"`
	Message         string       `json:"message,omitempty"`
}

func NewSignal(action Action, recipient Identity) Signal {
	return Signal{
		Action:    action,
		Recipient: NewIdentity(recipient.String()),
	}
}
