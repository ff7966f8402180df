package port

import (
	"context"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// Channel is one persistent connection to the backend. Hooks must be set
// before Connect.
type Channel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, v any) error
	State() domain.ChannelState
	Close() error

	OnFrame(fn FrameHandler)
	OnStateChange(fn func(domain.ChannelState))
	OnOpen(fn OpenHook)
}

// FrameHandler consumes decoded inbound frames.
type FrameHandler func(domain.Frame)

// OpenHook runs after every successful connect, with the channel already open.
type OpenHook func(ctx context.Context, ch Channel) error

// Credentials yields the access token used to open channels. Its lifetime is
// the authenticated session: Set on sign-in, Clear on sign-out.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Authenticated() bool
	Set(token string)
	Clear()
}
