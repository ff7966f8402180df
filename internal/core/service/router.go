package service

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

type RouteFunc func(f domain.Frame) error

// Router is a FrameHandler that fans frames out by type.
type Router struct {
	name   string
	routes map[string]RouteFunc
}

func NewRouter(name string) *Router {
	return &Router{
		name:   name,
		routes: make(map[string]RouteFunc),
	}
}

func (r *Router) Handle(typ string, fn RouteFunc) *Router {
	r.routes[typ] = fn
	return r
}

// Dispatch never fails: unknown types and handler errors are logged and the
// frame is dropped.
func (r *Router) Dispatch(f domain.Frame) {
	fn, ok := r.routes[f.Type]
	if !ok {
		log.Debug().Str("router", r.name).Str("type", f.Type).Msg("Unknown frame type, dropping")
		return
	}
	if err := fn(f); err != nil {
		ev := log.Warn()
		if !errors.Is(err, domain.ErrProtocol) {
			ev = log.Error()
		}
		ev.Err(err).Str("router", r.name).Str("type", f.Type).Msg("Failed to handle frame")
	}
}
