package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	reconnectDialTimeout    = 15 * time.Second
)

type ReconnectPolicy struct {
	Enabled bool
	Delay   time.Duration
}

type Config struct {
	Name string
	// URL is the websocket endpoint without the token query parameter.
	URL string
	// TypeKey names the JSON field holding the frame type.
	TypeKey   string
	Reconnect ReconnectPolicy

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// Channel is a persistent websocket connection that reconnects on its own
// according to its policy. It implements port.Channel.
type Channel struct {
	cfg    Config
	creds  port.Credentials
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	state  domain.ChannelState
	gen    uint64
	closed bool
	timer  *time.Timer

	onFrame port.FrameHandler
	onState func(domain.ChannelState)
	onOpen  port.OpenHook

	writeMu sync.Mutex

	log zerolog.Logger
}

func NewChannel(cfg Config, creds port.Credentials) *Channel {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Channel{
		cfg:   cfg,
		creds: creds,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		state: domain.ChannelDisconnected,
		log:   log.With().Str("channel", cfg.Name).Logger(),
	}
}

func (c *Channel) OnFrame(fn port.FrameHandler) {
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

func (c *Channel) OnStateChange(fn func(domain.ChannelState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Channel) OnOpen(fn port.OpenHook) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel with a fresh token, replacing any live connection.
// It also re-arms reconnects after a previous Close.
func (c *Channel) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

func (c *Channel) connect(ctx context.Context, explicit bool) error {
	token, err := c.creds.Token(ctx)
	if err != nil || token == "" {
		c.log.Warn().Err(err).Msg("No credential available, not connecting")
		return fmt.Errorf("%w: %s channel", domain.ErrAuth, c.cfg.Name)
	}

	endpoint, err := c.endpoint(token)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	c.mu.Lock()
	if !explicit && c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.stopTimerLocked()
	old := c.conn
	c.conn = nil
	c.gen++
	c.state = domain.ChannelConnecting
	notify := c.onState
	c.mu.Unlock()

	if old != nil {
		c.log.Debug().Msg("Replacing live connection")
		old.Close()
	}
	fire(notify, domain.ChannelConnecting)

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("Dial failed")
		c.disconnected(c.currentGen(), true)
		return fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, c.cfg.Name, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: %s channel closed while connecting", domain.ErrConnection, c.cfg.Name)
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = domain.ChannelOpen
	notify, hook := c.onState, c.onOpen
	c.mu.Unlock()

	c.log.Info().Msg("Channel open")
	fire(notify, domain.ChannelOpen)

	go c.readLoop(conn, gen)

	if hook != nil {
		if err := hook(ctx, c); err != nil {
			c.log.Warn().Err(err).Msg("Open hook failed")
		}
	}
	return nil
}

func (c *Channel) endpoint(token string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected close error")
			}
			break
		}

		f, err := domain.DecodeFrame(data, c.cfg.TypeKey)
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}

		c.mu.Lock()
		handler := c.onFrame
		c.mu.Unlock()
		if handler != nil {
			handler(f)
		}
	}
	conn.Close()
	c.disconnected(gen, true)
}

// disconnected moves to Disconnected if gen is still the live connection and
// schedules a reconnect when the policy allows it.
func (c *Channel) disconnected(gen uint64, mayReconnect bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = domain.ChannelDisconnected
	notify := c.onState
	retry := mayReconnect && !c.closed && c.cfg.Reconnect.Enabled && c.creds.Authenticated()
	if retry {
		c.stopTimerLocked()
		c.timer = time.AfterFunc(c.cfg.Reconnect.Delay, c.reconnect)
	}
	c.mu.Unlock()

	c.log.Info().Bool("reconnect", retry).Dur("delay", c.cfg.Reconnect.Delay).Msg("Channel disconnected")
	fire(notify, domain.ChannelDisconnected)
}

func (c *Channel) reconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), reconnectDialTimeout)
	defer cancel()
	c.log.Debug().Msg("Reconnecting")
	if err := c.connect(ctx, false); err != nil && !errors.Is(err, domain.ErrConnection) {
		c.log.Warn().Err(err).Msg("Reconnect abandoned")
	}
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Send writes v as one JSON text frame. Nothing is queued: it fails with
// domain.ErrNotConnected unless the channel is open.
func (c *Channel) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != domain.ChannelOpen || conn == nil {
		return fmt.Errorf("%w: %s is %s", domain.ErrNotConnected, c.cfg.Name, state)
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrConnection, c.cfg.Name, err)
	}
	return nil
}

// Close stops reconnecting and closes the connection. It is safe to call more
// than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	if conn == nil {
		wasDisconnected := c.state == domain.ChannelDisconnected
		c.state = domain.ChannelDisconnected
		notify := c.onState
		c.mu.Unlock()
		if !wasDisconnected {
			fire(notify, domain.ChannelDisconnected)
		}
		return nil
	}
	c.state = domain.ChannelClosing
	notify := c.onState
	c.mu.Unlock()

	fire(notify, domain.ChannelClosing)

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()

	c.mu.Lock()
	c.state = domain.ChannelDisconnected
	c.mu.Unlock()

	c.log.Info().Msg("Channel closed")
	fire(notify, domain.ChannelDisconnected)
	return err
}

func fire(fn func(domain.ChannelState), s domain.ChannelState) {
	if fn != nil {
		fn(s)
	}
}
