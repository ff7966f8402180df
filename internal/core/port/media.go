package port

import (
	"context"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

type Track interface {
	ID() string
	Kind() string
}

// Stream is a set of local tracks. Stop releases the underlying devices.
type Stream interface {
	Tracks() []Track
	Stop()
}

// MediaSource acquires local media. Errors wrap domain.ErrPermission or
// domain.ErrMedia.
type MediaSource interface {
	Acquire(ctx context.Context, constraints domain.MediaConstraints) (Stream, error)
}
