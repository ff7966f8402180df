package port

import (
	"context"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
	Replace(ctx context.Context, connID domain.ConnectionID, msgs []domain.Message, next *int) error
	SetStatus(ctx context.Context, id domain.MessageID, status domain.MessageStatus) error
	List(ctx context.Context, connID domain.ConnectionID) ([]domain.Message, *int, error)
}
