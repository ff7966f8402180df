package port

import (
	"context"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// Negotiator is the native peer-connection primitive. Implementations must
// tolerate being called from any goroutine, although the engine only ever
// issues one call at a time per negotiator.
type Negotiator interface {
	CreateOffer(ctx context.Context) (domain.Description, error)
	CreateAnswer(ctx context.Context) (domain.Description, error)
	SetLocalDescription(ctx context.Context, d domain.Description) error
	SetRemoteDescription(ctx context.Context, d domain.Description) error
	AddICECandidate(ctx context.Context, c domain.Candidate) error
	AddTrack(t Track) error
	Close() error
}

// NegotiatorEvents are the callbacks a negotiator fires. They may be invoked
// from arbitrary goroutines.
type NegotiatorEvents struct {
	OnICECandidate          func(domain.Candidate)
	OnTrack                 func(kind, id string)
	OnConnectionStateChange func(state string)
}

type NegotiatorFactory interface {
	NewNegotiator(events NegotiatorEvents) (Negotiator, error)
}
