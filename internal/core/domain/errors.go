package domain

import "errors"

var (
	// ErrAuth means no usable credential was available to open a channel.
	ErrAuth = errors.New("no valid credential available")
	// ErrConnection covers transport failures on a channel.
	ErrConnection   = errors.New("connection failure")
	ErrNotConnected = errors.New("channel not connected")

	ErrPermission = errors.New("media permission denied")
	ErrMedia      = errors.New("media device unavailable")

	ErrNegotiation        = errors.New("negotiation failed")
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	// ErrProtocol marks an inbound frame that could not be decoded or routed.
	ErrProtocol = errors.New("protocol error")

	ErrRoleRequired   = errors.New("call role must be explicit")
	ErrNoIncomingCall = errors.New("no incoming call")

	ErrEmptyMessage = errors.New("message text cannot be empty")
)
