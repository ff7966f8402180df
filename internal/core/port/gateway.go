package port

import "context"

// SignalGateway is the outbound side of the signaling channel as seen by the
// call engine.
type SignalGateway interface {
	Send(ctx context.Context, v any) error
}

// ChatGateway is the outbound side of the chat channel.
type ChatGateway interface {
	Send(ctx context.Context, v any) error
}
