package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/codec"
	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

var ErrSignedOut = errors.New("not signed in")

type ClientDeps struct {
	Signal      port.Channel
	Chat        port.Channel
	Credentials port.Credentials
	Negotiators port.NegotiatorFactory
	Media       port.MediaSource
	Messages    port.MessageRepository
	Filter      *codec.Filter
	Policy      CallPolicy
}

// Client is the process-wide context. Each sign-in gets a fresh call engine
// and chat service bound to both channels; sign-out tears them down.
type Client struct {
	deps ClientDeps

	mu      sync.Mutex
	local   domain.Identity
	calls   *CallEngine
	chat    *ChatService
	running bool
}

func NewClient(deps ClientDeps) *Client {
	return &Client{deps: deps}
}

func (c *Client) SignIn(ctx context.Context, username, token string) error {
	local := domain.NewIdentity(username)
	if local.IsZero() {
		return fmt.Errorf("%w: username is required", domain.ErrAuth)
	}
	if token == "" {
		return domain.ErrAuth
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.teardown()
	}

	c.deps.Credentials.Set(token)
	calls := NewCallEngine(local, c.deps.Signal, c.deps.Negotiators, c.deps.Media, c.deps.Filter, NewSignalDispatcher(), c.deps.Policy)
	chat := NewChatService(local, c.deps.Messages, c.deps.Chat)

	c.deps.Signal.OnFrame(calls.HandleFrame)
	c.deps.Signal.OnStateChange(calls.SignalingStateChanged)
	c.deps.Signal.OnOpen(pingOnOpen)
	c.deps.Chat.OnFrame(chat.HandleFrame)
	c.deps.Chat.OnOpen(listsOnOpen)

	c.local, c.calls, c.chat, c.running = local, calls, chat, true

	if err := c.deps.Signal.Connect(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("connect signaling: %w", err)
	}
	if err := c.deps.Chat.Connect(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("connect chat: %w", err)
	}
	log.Info().Str("username", local.String()).Msg("Signed in")
	return nil
}

func (c *Client) SignOut() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	err := c.teardown()
	log.Info().Str("username", c.local.String()).Msg("Signed out")
	return err
}

// teardown must be called with c.mu held.
func (c *Client) teardown() error {
	c.deps.Credentials.Clear()

	// The engine goes first so a live call can still send its end-call.
	if c.calls != nil {
		c.calls.Close()
	}
	if c.chat != nil {
		c.chat.Close()
	}
	err := errors.Join(c.deps.Signal.Close(), c.deps.Chat.Close())

	c.deps.Signal.OnFrame(nil)
	c.deps.Signal.OnStateChange(nil)
	c.deps.Chat.OnFrame(nil)

	c.calls, c.chat, c.running = nil, nil, false
	return err
}

func (c *Client) Local() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Client) Calls() (*CallEngine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		return nil, ErrSignedOut
	}
	return c.calls, nil
}

func (c *Client) Chat() (*ChatService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == nil {
		return nil, ErrSignedOut
	}
	return c.chat, nil
}

type ChannelStates struct {
	Signal string `json:"signal"`
	Chat   string `json:"chat"`
}

func (c *Client) Channels() ChannelStates {
	return ChannelStates{
		Signal: c.deps.Signal.State().String(),
		Chat:   c.deps.Chat.State().String(),
	}
}

func pingOnOpen(ctx context.Context, ch port.Channel) error {
	return ch.Send(ctx, domain.NewSignal(domain.ActionPing, ""))
}

func listsOnOpen(ctx context.Context, ch port.Channel) error {
	for _, src := range []string{domain.SourceRequestList, domain.SourceFriendList} {
		if err := ch.Send(ctx, domain.ChatRequest{Source: src}); err != nil {
			return err
		}
	}
	return nil
}
