package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/service"
)

// Handler is the local control API of a running client.
type Handler struct {
	Client *service.Client
}

func NewHandler(client *service.Client) *Handler {
	return &Handler{Client: client}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/state", h.GetState)
	r.Get("/events", h.ServeEvents)

	r.Route("/calls", func(r chi.Router) {
		r.Post("/", h.StartCall)
		r.Delete("/", h.Hangup)
		r.Post("/accept", h.AcceptCall)
		r.Post("/decline", h.DeclineCall)
	})
	r.Post("/sessions", h.OpenSession)

	r.Post("/messages", h.SendMessage)
	r.Get("/messages/{connID}", h.ListMessages)

	return r
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	type stateDTO struct {
		Local    domain.Identity          `json:"local,omitempty"`
		Channels service.ChannelStates    `json:"channels"`
		Call     *service.CallEngineState `json:"call,omitempty"`
	}

	dto := stateDTO{
		Local:    h.Client.Local(),
		Channels: h.Client.Channels(),
	}
	if calls, err := h.Client.Calls(); err == nil {
		st, err := calls.State(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		dto.Call = &st
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Recipient == "" {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: "recipient is required"})
		return
	}

	calls, err := h.Client.Calls()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := calls.StartCall(r.Context(), req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionDTO{SessionID: id})
}

// OpenSession opens a session with an explicit role. It never guesses the role.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Remote string `json:"remote"`
		Role   string `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	calls, err := h.Client.Calls()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := calls.Open(r.Context(), domain.CallRequest{Remote: domain.NewIdentity(req.Remote), Role: role})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionDTO{SessionID: id})
}

func (h *Handler) AcceptCall(w http.ResponseWriter, r *http.Request) {
	calls, err := h.Client.Calls()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := calls.AcceptCall(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionDTO{SessionID: id})
}

func (h *Handler) DeclineCall(w http.ResponseWriter, r *http.Request) {
	calls, err := h.Client.Calls()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := calls.DeclineCall(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Hangup(w http.ResponseWriter, r *http.Request) {
	calls, err := h.Client.Calls()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := calls.Hangup(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID domain.ConnectionID `json:"connection_id"`
		Text         string              `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}

	chat, err := h.Client.Chat()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := chat.SendMessage(r.Context(), req.ConnectionID, req.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListMessages returns stored history. With ?refresh=true it also asks the
// backend for the page named by ?next.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "connID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: "invalid connection id"})
		return
	}
	connID := domain.ConnectionID(id)

	chat, err := h.Client.Chat()
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("refresh") == "true" {
		var next *int
		if raw := r.URL.Query().Get("next"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorDTO{Error: "invalid next cursor"})
				return
			}
			next = &n
		}
		if err := chat.ListMessages(r.Context(), connID, next); err != nil {
			writeError(w, err)
			return
		}
	}

	type listDTO struct {
		Messages []domain.Message `json:"messages"`
		Next     *int             `json:"next"`
		Unread   int              `json:"unread"`
	}
	msgs, next, err := chat.Messages(r.Context(), connID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, listDTO{Messages: msgs, Next: next, Unread: chat.Unread(connID)})
}

type sessionDTO struct {
	SessionID domain.SessionID `json:"session_id"`
}

type errorDTO struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: "invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoleRequired), errors.Is(err, domain.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoIncomingCall):
		status = http.StatusConflict
	case errors.Is(err, service.ErrSignedOut), errors.Is(err, service.ErrEngineClosed),
		errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrConnection):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Control request failed")
	}
	writeJSON(w, status, errorDTO{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
