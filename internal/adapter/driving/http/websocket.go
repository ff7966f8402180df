package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

const eventWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API only listens locally.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeEvents streams call events to a websocket until either side goes away
// or the engine is closed by sign-out.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	calls, err := h.Client.Calls()
	if err != nil {
		writeError(w, err)
		return
	}

	events, cancel := calls.Subscribe()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	l := log.With().Str("remote_addr", r.RemoteAddr).Logger()
	l.Info().Msg("Event subscriber connected")

	defer func() {
		cancel()
		conn.Close()
		l.Info().Msg("Event subscriber disconnected")
	}()

	// Reads only detect the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					l.Warn().Err(err).Msg("Unexpected close error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signed out")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := write(conn, ev); err != nil {
				l.Warn().Err(err).Msg("Failed to write event")
				return
			}
		}
	}
}

func write(conn *websocket.Conn, ev domain.CallEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
