package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// MessageRepository keeps chat history per connection, newest message first.
type MessageRepository struct {
	mu       sync.Mutex
	messages map[domain.ConnectionID][]domain.Message
	next     map[domain.ConnectionID]*int
	index    map[domain.MessageID]domain.ConnectionID
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[domain.ConnectionID][]domain.Message),
		next:     make(map[domain.ConnectionID]*int),
		index:    make(map[domain.MessageID]domain.ConnectionID),
	}
}

// Save prepends msg to its connection. A message already stored under the
// same id is replaced in place.
func (r *MessageRepository) Save(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connID, ok := r.index[msg.ID]; ok && connID == msg.ConnectionID {
		list := r.messages[connID]
		for i := range list {
			if list[i].ID == msg.ID {
				list[i] = msg
				return nil
			}
		}
	}
	r.messages[msg.ConnectionID] = append([]domain.Message{msg}, r.messages[msg.ConnectionID]...)
	r.index[msg.ID] = msg.ConnectionID
	return nil
}

func (r *MessageRepository) Replace(ctx context.Context, connID domain.ConnectionID, msgs []domain.Message, next *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.messages[connID] {
		delete(r.index, m.ID)
	}
	list := make([]domain.Message, len(msgs))
	copy(list, msgs)
	for _, m := range list {
		r.index[m.ID] = connID
	}
	r.messages[connID] = list
	r.next[connID] = next
	return nil
}

func (r *MessageRepository) SetStatus(ctx context.Context, id domain.MessageID, status domain.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, ok := r.index[id]
	if !ok {
		return fmt.Errorf("message %d not found", id)
	}
	list := r.messages[connID]
	for i := range list {
		if list[i].ID == id {
			list[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("message %d not found", id)
}

func (r *MessageRepository) List(ctx context.Context, connID domain.ConnectionID) ([]domain.Message, *int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]domain.Message, len(r.messages[connID]))
	copy(list, r.messages[connID])
	return list, r.next[connID], nil
}
