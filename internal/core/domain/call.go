package domain

import "fmt"

type Role int

const (
	RoleUnknown Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "unknown"
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "caller":
		return RoleCaller, nil
	case "callee":
		return RoleCallee, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: got %q", ErrRoleRequired, s)
	}
}

type CallState int

const (
	CallIdle CallState = iota
	CallAwaitingMedia
	CallDialing
	CallRinging
	CallNegotiatingOffer
	CallNegotiatingAnswer
	CallConnected
	CallEnding
	CallEnded
)

var callStateNames = [...]string{
	CallIdle:              "idle",
	CallAwaitingMedia:     "awaiting_media",
	CallDialing:           "dialing",
	CallRinging:           "ringing",
	CallNegotiatingOffer:  "negotiating_offer",
	CallNegotiatingAnswer: "negotiating_answer",
	CallConnected:         "connected",
	CallEnding:            "ending",
	CallEnded:             "ended",
}

func (s CallState) String() string {
	if int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return "unknown"
}

// CallRequest opens a call session. Role must be set explicitly; it is never
// inferred from which other fields happen to be present.
type CallRequest struct {
	Remote Identity
	Role   Role
}

func (r CallRequest) Validate() error {
	if r.Role != RoleCaller && r.Role != RoleCallee {
		return ErrRoleRequired
	}
	if r.Remote.IsZero() {
		return fmt.Errorf("remote identity is required")
	}
	return nil
}

type IncomingCall struct {
	Caller          Identity
	RecipientOnline bool
}

type EndReason string

const (
	ReasonHangup         EndReason = "hangup"
	ReasonRemoteEnded    EndReason = "remote_ended"
	ReasonDeclined       EndReason = "declined"
	ReasonError          EndReason = "error"
	ReasonTimeout        EndReason = "timeout"
	ReasonConnectionLost EndReason = "connection_lost"
	ReasonShutdown       EndReason = "shutdown"
	ReasonReplaced       EndReason = "replaced"
)

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

type MediaConstraints struct {
	Audio bool
	Video *VideoConstraints
}

// CallSnapshot is a read-only view of the current session.
type CallSnapshot struct {
	ID         SessionID `json:"id"`
	Local      Identity  `json:"local"`
	Remote     Identity  `json:"remote"`
	Role       string    `json:"role"`
	State      string    `json:"state"`
	MediaReady bool      `json:"media_ready"`
	Accepted   bool      `json:"accepted"`
}

type EventKind string

const (
	EventState       EventKind = "state"
	EventIncoming    EventKind = "incoming"
	EventAccepted    EventKind = "accepted"
	EventRemoteTrack EventKind = "remote_track"
	EventFailed      EventKind = "failed"
	EventEnded       EventKind = "ended"
)

// CallEvent is published to engine subscribers on every observable change.
type CallEvent struct {
	Kind    EventKind `json:"kind"`
	Session SessionID `json:"session,omitempty"`
	Remote  Identity  `json:"remote,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Reason  EndReason `json:"reason,omitempty"`
	Track   string    `json:"track,omitempty"`
	Err     string    `json:"error,omitempty"`
}
