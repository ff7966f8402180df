package service

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

// SignalBuffer holds frames that arrived before any handler was attached.
type SignalBuffer struct {
	frames []domain.Frame
}

func (b *SignalBuffer) Push(f domain.Frame) {
	b.frames = append(b.frames, f)
}

func (b *SignalBuffer) Len() int {
	return len(b.frames)
}

// Drain returns the buffered frames in arrival order and empties the buffer.
func (b *SignalBuffer) Drain() []domain.Frame {
	frames := b.frames
	b.frames = nil
	return frames
}

// Dispatcher routes frames of one channel to the attached handler. While no
// handler is attached, frames of the bufferable types are kept and replayed
// in order on the next Register; everything else is dropped.
//
// Handlers run with the dispatcher lock held, so they must not call Register
// or Unregister themselves.
type Dispatcher struct {
	name string

	mu         sync.Mutex
	handler    port.FrameHandler
	buffer     SignalBuffer
	bufferable map[string]struct{}
}

func NewDispatcher(name string, bufferable ...string) *Dispatcher {
	d := &Dispatcher{
		name:       name,
		bufferable: make(map[string]struct{}, len(bufferable)),
	}
	for _, t := range bufferable {
		d.bufferable[t] = struct{}{}
	}
	return d
}

// NewSignalDispatcher buffers the session-relevant signaling actions.
func NewSignalDispatcher() *Dispatcher {
	types := make([]string, 0, len(domain.SessionActions))
	for _, a := range domain.SessionActions {
		types = append(types, string(a))
	}
	return NewDispatcher("signal", types...)
}

// Register replaces the handler and flushes buffered frames to it before any
// newer frame can be dispatched.
func (d *Dispatcher) Register(fn port.FrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handler = fn
	if fn == nil {
		return
	}

	pending := d.buffer.Drain()
	if len(pending) > 0 {
		log.Debug().Str("dispatcher", d.name).Int("count", len(pending)).Msg("Flushing buffered frames")
	}
	for _, f := range pending {
		d.invoke(fn, f)
	}
}

func (d *Dispatcher) Unregister() {
	d.mu.Lock()
	d.handler = nil
	d.mu.Unlock()
}

func (d *Dispatcher) Dispatch(f domain.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler != nil {
		d.invoke(d.handler, f)
		return
	}

	if _, ok := d.bufferable[f.Type]; ok {
		d.buffer.Push(f)
		log.Debug().Str("dispatcher", d.name).Str("type", f.Type).Int("buffered", d.buffer.Len()).Msg("No handler attached, buffering frame")
		return
	}
	log.Debug().Str("dispatcher", d.name).Str("type", f.Type).Msg("No handler attached, dropping frame")
}

// Pending reports how many frames are waiting for a handler.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer.Len()
}

func (d *Dispatcher) invoke(fn port.FrameHandler, f domain.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("dispatcher", d.name).Str("type", f.Type).Interface("panic", r).Msg("Frame handler panicked")
		}
	}()
	fn(f)
}
