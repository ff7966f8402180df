package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

const DefaultTypingTTL = 2 * time.Second

// Typing describes a remote user currently typing.
type Typing struct {
	User         domain.Identity     `json:"user"`
	ConnectionID domain.ConnectionID `json:"connection_id,omitempty"`
	Since        time.Time           `json:"since"`
}

type ChatService struct {
	local     domain.Identity
	repo      port.MessageRepository
	gateway   port.ChatGateway
	router    *Router
	typingTTL time.Duration

	mu          sync.Mutex
	active      domain.ConnectionID
	listing     domain.ConnectionID
	unread      map[domain.ConnectionID]int
	online      map[domain.Identity]bool
	typing      *Typing
	typingTimer *time.Timer
}

func NewChatService(local domain.Identity, repo port.MessageRepository, gateway port.ChatGateway) *ChatService {
	s := &ChatService{
		local:     domain.NewIdentity(local.String()),
		repo:      repo,
		gateway:   gateway,
		typingTTL: DefaultTypingTTL,
		unread:    make(map[domain.ConnectionID]int),
		online:    make(map[domain.Identity]bool),
	}
	s.router = NewRouter("chat").
		Handle(domain.SourceMessageSend, s.onMessage).
		Handle(domain.SourceMessageList, s.onList).
		Handle(domain.SourceMessageTyping, s.onTyping).
		Handle(domain.SourceMessageRead, s.onStatus).
		Handle(domain.SourceMessageDelivered, s.onStatus).
		Handle(domain.SourceUserStatus, s.onUserStatus).
		Handle(domain.SourceFriendList, s.ignore).
		Handle(domain.SourceRequestList, s.ignore)
	return s
}

// HandleFrame is the chat channel's frame handler.
func (s *ChatService) HandleFrame(f domain.Frame) {
	s.router.Dispatch(f)
}

func (s *ChatService) SendMessage(ctx context.Context, connID domain.ConnectionID, text string) error {
	req, err := domain.NewSendMessage(connID, text)
	if err != nil {
		return err
	}
	return s.gateway.Send(ctx, req)
}

// ListMessages asks for a page of history. The reply replaces what is stored
// for connID.
func (s *ChatService) ListMessages(ctx context.Context, connID domain.ConnectionID, next *int) error {
	s.mu.Lock()
	s.listing = connID
	s.mu.Unlock()

	return s.gateway.Send(ctx, domain.ChatRequest{
		Source:       domain.SourceMessageList,
		ConnectionID: &connID,
		Next:         next,
	})
}

func (s *ChatService) Typing(ctx context.Context, username domain.Identity) error {
	return s.gateway.Send(ctx, domain.ChatRequest{
		Source:   domain.SourceMessageTyping,
		Username: username,
	})
}

func (s *ChatService) MarkRead(ctx context.Context, id domain.MessageID) error {
	return s.gateway.Send(ctx, domain.ChatRequest{
		Source:    domain.SourceMessageRead,
		MessageID: &id,
	})
}

func (s *ChatService) Messages(ctx context.Context, connID domain.ConnectionID) ([]domain.Message, *int, error) {
	return s.repo.List(ctx, connID)
}

// SetActiveConnection marks the conversation being viewed; its messages do
// not count as unread. Zero clears it.
func (s *ChatService) SetActiveConnection(connID domain.ConnectionID) {
	s.mu.Lock()
	s.active = connID
	s.mu.Unlock()
}

func (s *ChatService) ClearUnread(connID domain.ConnectionID) {
	s.mu.Lock()
	delete(s.unread, connID)
	s.mu.Unlock()
}

func (s *ChatService) Unread(connID domain.ConnectionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[connID]
}

// CurrentTyping returns who is typing, if anyone.
func (s *ChatService) CurrentTyping() (Typing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typing == nil {
		return Typing{}, false
	}
	return *s.typing, true
}

func (s *ChatService) Online(user domain.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[domain.NewIdentity(user.String())]
}

// Close stops the typing expiry timer.
func (s *ChatService) Close() {
	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()
}

func decodeData(f domain.Frame, v any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := f.Decode(&env); err != nil {
		return err
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domain.ErrProtocol, f.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", domain.ErrProtocol, f.Type, err)
	}
	return nil
}

func (s *ChatService) onMessage(f domain.Frame) error {
	var msg domain.Message
	if err := decodeData(f, &msg); err != nil {
		return err
	}
	if err := s.repo.Save(context.Background(), msg); err != nil {
		return err
	}

	mine := msg.SentBy(s.local)
	s.mu.Lock()
	if !mine && msg.ConnectionID != 0 && msg.ConnectionID != s.active {
		s.unread[msg.ConnectionID]++
	}
	s.mu.Unlock()

	log.Debug().Int64("message_id", int64(msg.ID)).Int64("connection_id", int64(msg.ConnectionID)).Bool("mine", mine).Msg("Message received")
	return nil
}

func (s *ChatService) onList(f domain.Frame) error {
	var page struct {
		Messages   []domain.Message     `json:"messages"`
		Next       *int                 `json:"next"`
		Connection *domain.ConnectionID `json:"connection"`
	}
	if err := decodeData(f, &page); err != nil {
		return err
	}

	s.mu.Lock()
	connID := s.listing
	s.mu.Unlock()
	switch {
	case page.Connection != nil:
		connID = *page.Connection
	case len(page.Messages) > 0 && page.Messages[0].ConnectionID != 0:
		connID = page.Messages[0].ConnectionID
	}
	if connID == 0 {
		return fmt.Errorf("%w: message list for unknown connection", domain.ErrProtocol)
	}
	return s.repo.Replace(context.Background(), connID, page.Messages, page.Next)
}

func (s *ChatService) onTyping(f domain.Frame) error {
	var data struct {
		Username     domain.Identity     `json:"username"`
		ConnectionID domain.ConnectionID `json:"connection_id"`
	}
	if err := decodeData(f, &data); err != nil {
		return err
	}
	if data.Username.IsZero() || data.Username.Equal(s.local) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = &Typing{User: data.Username, ConnectionID: data.ConnectionID, Since: time.Now()}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	current := s.typing
	s.typingTimer = time.AfterFunc(s.typingTTL, func() {
		s.mu.Lock()
		if s.typing == current {
			s.typing = nil
			s.typingTimer = nil
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *ChatService) onStatus(f domain.Frame) error {
	var data struct {
		MessageID domain.MessageID     `json:"message_id"`
		Status    domain.MessageStatus `json:"status"`
	}
	if err := decodeData(f, &data); err != nil {
		return err
	}
	if data.Status == "" {
		if f.Type == domain.SourceMessageRead {
			data.Status = domain.StatusRead
		} else {
			data.Status = domain.StatusDelivered
		}
	}
	if err := s.repo.SetStatus(context.Background(), data.MessageID, data.Status); err != nil {
		log.Debug().Err(err).Int64("message_id", int64(data.MessageID)).Msg("Status update for unknown message")
	}
	return nil
}

func (s *ChatService) onUserStatus(f domain.Frame) error {
	var data struct {
		Username domain.Identity `json:"username"`
		Online   bool            `json:"online"`
	}
	if err := decodeData(f, &data); err != nil {
		return err
	}
	s.mu.Lock()
	s.online[data.Username] = data.Online
	s.mu.Unlock()
	return nil
}

func (s *ChatService) ignore(f domain.Frame) error {
	log.Debug().Str("source", f.Type).Msg("Ignoring chat frame")
	return nil
}
