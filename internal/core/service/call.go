package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/codec"
	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

var ErrEngineClosed = errors.New("call engine closed")

const sendTimeout = 5 * time.Second

type CallPolicy struct {
	// ContinueOnLocalFailure keeps signaling going when the negotiator fails
	// to apply a local or remote description. Native stacks on some devices
	// reject descriptions they produced themselves; the peer can usually
	// still connect.
	ContinueOnLocalFailure bool
	// NegotiationTimeout bounds the time from dialing (or offering) to
	// connected. Zero disables it.
	NegotiationTimeout time.Duration
	Constraints        domain.MediaConstraints
}

func DefaultCallPolicy() CallPolicy {
	return CallPolicy{
		ContinueOnLocalFailure: true,
		NegotiationTimeout:     30 * time.Second,
		Constraints: domain.MediaConstraints{
			Audio: true,
			Video: &domain.VideoConstraints{Width: 320, Height: 240, FrameRate: 15},
		},
	}
}

type CallEngineState struct {
	Session  *domain.CallSnapshot `json:"session,omitempty"`
	Incoming *domain.IncomingCall `json:"incoming,omitempty"`
}

// CallEngine owns the single call session. Every state change happens on one
// loop goroutine; slow work (media, negotiator calls) runs elsewhere and
// posts its continuation back.
type CallEngine struct {
	local       domain.Identity
	gateway     port.SignalGateway
	negotiators port.NegotiatorFactory
	media       port.MediaSource
	filter      *codec.Filter
	dispatcher  *Dispatcher
	policy      CallPolicy

	loop *mailbox

	// loop-owned
	session  *CallSession
	incoming *domain.IncomingCall

	subsMu sync.Mutex
	subs   map[chan domain.CallEvent]struct{}

	closeOnce sync.Once
}

func NewCallEngine(
	local domain.Identity,
	gateway port.SignalGateway,
	negotiators port.NegotiatorFactory,
	media port.MediaSource,
	filter *codec.Filter,
	dispatcher *Dispatcher,
	policy CallPolicy,
) *CallEngine {
	if filter == nil {
		filter = codec.NewFilter(codec.DefaultExcluded...)
	}
	if dispatcher == nil {
		dispatcher = NewSignalDispatcher()
	}
	return &CallEngine{
		local:       domain.NewIdentity(local.String()),
		gateway:     gateway,
		negotiators: negotiators,
		media:       media,
		filter:      filter,
		dispatcher:  dispatcher,
		policy:      policy,
		loop:        newMailbox("call-engine"),
		subs:        make(map[chan domain.CallEvent]struct{}),
	}
}

// exec runs fn on the loop and waits for its result.
func (e *CallEngine) exec(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !e.loop.post(func() { res <- fn() }) {
		return ErrEngineClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *CallEngine) StartCall(ctx context.Context, remote string) (domain.SessionID, error) {
	return e.Open(ctx, domain.CallRequest{Remote: domain.NewIdentity(remote), Role: domain.RoleCaller})
}

// AcceptCall answers the pending incoming call and opens a callee session.
func (e *CallEngine) AcceptCall(ctx context.Context) (domain.SessionID, error) {
	var id domain.SessionID
	err := e.exec(ctx, func() error {
		ic := e.incoming
		if ic == nil {
			return domain.ErrNoIncomingCall
		}
		e.incoming = nil

		if err := e.sendSignal(domain.NewSignal(domain.ActionAccept, ic.Caller)); err != nil {
			return err
		}
		var err error
		id, err = e.open(domain.CallRequest{Remote: ic.Caller, Role: domain.RoleCallee})
		return err
	})
	return id, err
}

func (e *CallEngine) DeclineCall(ctx context.Context) error {
	return e.exec(ctx, func() error {
		ic := e.incoming
		if ic == nil {
			return domain.ErrNoIncomingCall
		}
		e.incoming = nil
		log.Info().Str("caller", ic.Caller.String()).Msg("Declining incoming call")
		return e.sendSignal(domain.NewSignal(domain.ActionDecline, ic.Caller))
	})
}

// Open starts a session from an explicit request. Any existing session is
// ended first.
func (e *CallEngine) Open(ctx context.Context, req domain.CallRequest) (domain.SessionID, error) {
	var id domain.SessionID
	err := e.exec(ctx, func() error {
		var err error
		id, err = e.open(req)
		return err
	})
	return id, err
}

// Hangup ends the current session, if any. Calling it repeatedly is harmless.
func (e *CallEngine) Hangup(ctx context.Context) error {
	return e.exec(ctx, func() error {
		if s := e.session; s != nil {
			e.end(s, domain.ReasonHangup, true, nil)
		}
		return nil
	})
}

func (e *CallEngine) State(ctx context.Context) (CallEngineState, error) {
	var st CallEngineState
	err := e.exec(ctx, func() error {
		if s := e.session; s != nil {
			snap := s.Snapshot()
			st.Session = &snap
		}
		if e.incoming != nil {
			ic := *e.incoming
			st.Incoming = &ic
		}
		return nil
	})
	return st, err
}

// HandleFrame is the signaling channel's frame handler.
func (e *CallEngine) HandleFrame(f domain.Frame) {
	e.loop.post(func() { e.route(f) })
}

// SignalingStateChanged must be wired to the signaling channel's state hook.
func (e *CallEngine) SignalingStateChanged(state domain.ChannelState) {
	if state != domain.ChannelDisconnected {
		return
	}
	e.loop.post(func() {
		if e.incoming != nil {
			log.Info().Str("caller", e.incoming.Caller.String()).Msg("Signaling lost, dropping incoming call")
			e.incoming = nil
		}
		if s := e.session; s != nil {
			e.end(s, domain.ReasonConnectionLost, false, fmt.Errorf("%w: signaling channel closed", domain.ErrConnection))
		}
	})
}

// Subscribe returns a stream of call events. Events are dropped for a
// subscriber that does not keep up.
func (e *CallEngine) Subscribe() (<-chan domain.CallEvent, func()) {
	ch := make(chan domain.CallEvent, 64)
	e.subsMu.Lock()
	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
			e.subsMu.Unlock()
		})
	}
}

// Close ends any session, stops the loop and closes subscriber streams.
func (e *CallEngine) Close() {
	e.closeOnce.Do(func() {
		e.loop.post(func() {
			e.incoming = nil
			if s := e.session; s != nil {
				e.end(s, domain.ReasonShutdown, true, nil)
			}
		})
		e.loop.stop()
		e.loop.wait()

		e.subsMu.Lock()
		for ch := range e.subs {
			close(ch)
			delete(e.subs, ch)
		}
		e.subsMu.Unlock()
	})
}

func (e *CallEngine) emit(ev domain.CallEvent) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("kind", string(ev.Kind)).Msg("Subscriber too slow, dropping call event")
		}
	}
}

func (e *CallEngine) transition(s *CallSession, to domain.CallState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Call state changed")
	e.emit(domain.CallEvent{
		Kind:    domain.EventState,
		Session: s.id,
		Remote:  s.remote,
		From:    from.String(),
		To:      to.String(),
	})
}

// route runs on the loop for every inbound signaling frame, in arrival order.
func (e *CallEngine) route(f domain.Frame) {
	switch domain.Action(f.Type) {
	case domain.ActionCall:
		e.onIncoming(f)
	case domain.ActionEndCall:
		if e.incoming != nil && e.session == nil && f.Sender.Equal(e.incoming.Caller) {
			log.Info().Str("caller", e.incoming.Caller.String()).Msg("Caller hung up before the call was accepted")
			e.emit(domain.CallEvent{Kind: domain.EventEnded, Remote: e.incoming.Caller, Reason: domain.ReasonRemoteEnded})
			e.incoming = nil
			return
		}
	case domain.ActionPong, domain.ActionConnectionSuccess:
		log.Debug().Str("action", f.Type).Msg("Signaling channel acknowledged")
		return
	case domain.ActionError:
		var sig domain.Signal
		_ = f.Decode(&sig)
		log.Warn().Str("message", sig.Message).Msg("Signaling server reported an error")
		return
	}
	e.dispatcher.Dispatch(f)
}

func (e *CallEngine) onIncoming(f domain.Frame) {
	var sig domain.Signal
	if err := f.Decode(&sig); err != nil {
		log.Warn().Err(err).Msg("Malformed call notification")
		return
	}
	caller := sig.Caller
	if caller.IsZero() {
		caller = f.Sender
	}
	if caller.IsZero() {
		log.Warn().Msg("Call notification without caller, dropping")
		return
	}

	if s := e.session; s != nil {
		log.Warn().Str("caller", caller.String()).Str("active", s.remote.String()).Msg("Ignoring incoming call while a session is active")
		return
	}
	if e.incoming != nil && !e.incoming.Caller.Equal(caller) {
		log.Warn().Str("caller", caller.String()).Str("pending", e.incoming.Caller.String()).Msg("Ignoring incoming call while another is pending")
		return
	}

	ic := &domain.IncomingCall{Caller: caller}
	if sig.RecipientOnline != nil {
		ic.RecipientOnline = *sig.RecipientOnline
	}
	e.incoming = ic
	log.Info().Str("caller", caller.String()).Msg("Incoming call")
	e.emit(domain.CallEvent{Kind: domain.EventIncoming, Remote: caller})
}

func (e *CallEngine) open(req domain.CallRequest) (domain.SessionID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if s := e.session; s != nil {
		e.end(s, domain.ReasonReplaced, true, nil)
	}
	if e.incoming != nil && !e.incoming.Caller.Equal(req.Remote) {
		log.Info().Str("caller", e.incoming.Caller.String()).Msg("Dropping pending incoming call for a new session")
	}
	e.incoming = nil

	s := newCallSession(e.local, req)

	pc, err := e.negotiators.NewNegotiator(e.negotiatorEvents(s))
	if err != nil {
		s.cancel()
		return "", fmt.Errorf("%w: create peer connection: %v", domain.ErrNegotiation, err)
	}
	s.pc = pc
	s.worker = newMailbox("negotiator-" + s.id.String())
	s.router = e.sessionRouter(s)

	e.session = s
	s.log.Info().Msg("Call session opened")
	e.transition(s, domain.CallAwaitingMedia)

	e.dispatcher.Register(func(f domain.Frame) {
		e.loop.post(func() { e.handleSessionFrame(s, f) })
	})

	go func() {
		stream, err := e.media.Acquire(s.ctx, e.policy.Constraints)
		e.loop.post(func() { e.onMedia(s, stream, err) })
	}()

	return s.id, nil
}

func (e *CallEngine) negotiatorEvents(s *CallSession) port.NegotiatorEvents {
	return port.NegotiatorEvents{
		OnICECandidate: func(c domain.Candidate) {
			e.loop.post(func() {
				if s.ended {
					return
				}
				sig := domain.NewSignal(domain.ActionCandidate, s.remote)
				sig.Candidate = &c
				if err := e.sendSignal(sig); err != nil {
					s.log.Warn().Err(err).Msg("Failed to send local ICE candidate")
				}
			})
		},
		OnTrack: func(kind, id string) {
			e.loop.post(func() {
				if s.ended {
					return
				}
				s.log.Info().Str("kind", kind).Str("track", id).Msg("Remote track received")
				e.emit(domain.CallEvent{Kind: domain.EventRemoteTrack, Session: s.id, Remote: s.remote, Track: kind})
			})
		},
		OnConnectionStateChange: func(state string) {
			e.loop.post(func() {
				s.log.Debug().Str("pc_state", state).Msg("Peer connection state changed")
				if state == "failed" && !s.ended {
					e.end(s, domain.ReasonError, true, fmt.Errorf("%w: peer connection failed", domain.ErrConnection))
				}
			})
		},
	}
}

func (e *CallEngine) sessionRouter(s *CallSession) *Router {
	return NewRouter("call").
		Handle(string(domain.ActionCall), func(f domain.Frame) error {
			s.log.Debug().Str("caller", f.Sender.String()).Msg("Call notification seen by active session")
			return nil
		}).
		Handle(string(domain.ActionAccept), func(domain.Frame) error {
			e.onAccept(s)
			return nil
		}).
		Handle(string(domain.ActionDecline), func(domain.Frame) error {
			if s.role != domain.RoleCaller {
				return fmt.Errorf("%w: decline received by callee", domain.ErrProtocol)
			}
			e.end(s, domain.ReasonDeclined, false, nil)
			return nil
		}).
		Handle(string(domain.ActionOffer), func(f domain.Frame) error {
			return e.onOffer(s, f)
		}).
		Handle(string(domain.ActionAnswer), func(f domain.Frame) error {
			return e.onAnswer(s, f)
		}).
		Handle(string(domain.ActionCandidate), func(f domain.Frame) error {
			return e.onCandidate(s, f)
		}).
		Handle(string(domain.ActionEndCall), func(domain.Frame) error {
			e.end(s, domain.ReasonRemoteEnded, false, nil)
			return nil
		})
}

func (e *CallEngine) handleSessionFrame(s *CallSession, f domain.Frame) {
	if s.ended || e.session != s {
		s.log.Debug().Str("type", f.Type).Msg("Dropping frame for finished session")
		return
	}
	if !s.fromRemote(f) {
		s.log.Warn().Str("type", f.Type).Str("sender", f.Sender.String()).Msg("Dropping frame from unexpected sender")
		return
	}
	s.router.Dispatch(f)
}

func (e *CallEngine) onMedia(s *CallSession, stream port.Stream, err error) {
	if s.ended || e.session != s {
		if stream != nil {
			stream.Stop()
		}
		return
	}
	if err != nil {
		e.discard(s, err)
		return
	}

	s.stream = stream
	for _, t := range stream.Tracks() {
		runErr(e, s, "add track", func(context.Context) error { return s.pc.AddTrack(t) }, func(err error) {
			if err != nil {
				s.log.Warn().Err(err).Str("kind", t.Kind()).Msg("Failed to add local track")
			}
		})
	}
	s.mediaReady = true
	s.log.Info().Int("tracks", len(stream.Tracks())).Msg("Local media ready")

	switch s.role {
	case domain.RoleCaller:
		if err := e.sendSignal(domain.NewSignal(domain.ActionCall, s.remote)); err != nil {
			e.end(s, domain.ReasonError, false, err)
			return
		}
		e.transition(s, domain.CallDialing)
		if s.accepted {
			e.transition(s, domain.CallRinging)
		}
		e.armTimeout(s)
		if offer := s.heldOffer; offer != nil {
			s.heldOffer = nil
			s.log.Debug().Msg("Resuming held offer")
			e.answerOffer(s, *offer)
		}
	case domain.RoleCallee:
		e.transition(s, domain.CallNegotiatingOffer)
		e.armTimeout(s)
		e.createOffer(s)
	}
}

func (e *CallEngine) createOffer(s *CallSession) {
	runOp(e, s, "create offer", s.pc.CreateOffer, func(offer domain.Description, err error) {
		if err != nil || !offer.Valid() {
			e.end(s, domain.ReasonError, true, negotiationErr("create offer", err))
			return
		}
		offer = e.filter.ApplyDescription(offer)
		e.setLocal(s, offer, func() {
			sig := domain.NewSignal(domain.ActionOffer, s.remote)
			sig.Offer = &offer
			if err := e.sendSignal(sig); err != nil {
				e.end(s, domain.ReasonError, true, err)
				return
			}
			s.offerSent = true
			s.log.Info().Msg("Offer sent")
		})
	})
}

func (e *CallEngine) onAccept(s *CallSession) {
	if s.role != domain.RoleCaller || s.accepted {
		return
	}
	s.accepted = true
	s.log.Info().Msg("Remote accepted the call")
	e.emit(domain.CallEvent{Kind: domain.EventAccepted, Session: s.id, Remote: s.remote})
	if s.state == domain.CallDialing {
		e.transition(s, domain.CallRinging)
	}
}

func (e *CallEngine) onOffer(s *CallSession, f domain.Frame) error {
	var sig domain.Signal
	if err := f.Decode(&sig); err != nil {
		return err
	}
	if !sig.Offer.Valid() {
		return fmt.Errorf("%w: invalid offer", domain.ErrProtocol)
	}
	if s.role != domain.RoleCaller {
		// Only the callee offers; an offer here is glare.
		return fmt.Errorf("%w: offer received by callee", domain.ErrProtocol)
	}
	if s.remoteDesc != nil || s.heldOffer != nil {
		return fmt.Errorf("%w: duplicate offer", domain.ErrProtocol)
	}
	if !s.mediaReady {
		s.log.Debug().Msg("Local media not ready, holding offer")
		offer := *sig.Offer
		s.heldOffer = &offer
		return nil
	}
	e.answerOffer(s, *sig.Offer)
	return nil
}

func (e *CallEngine) answerOffer(s *CallSession, offer domain.Description) {
	e.transition(s, domain.CallNegotiatingAnswer)
	e.setRemote(s, offer, func() {
		runOp(e, s, "create answer", s.pc.CreateAnswer, func(answer domain.Description, err error) {
			if err != nil || !answer.Valid() {
				e.end(s, domain.ReasonError, true, negotiationErr("create answer", err))
				return
			}
			answer = e.filter.ApplyDescription(answer)
			e.setLocal(s, answer, func() {
				sig := domain.NewSignal(domain.ActionAnswer, s.remote)
				sig.Answer = &answer
				if err := e.sendSignal(sig); err != nil {
					e.end(s, domain.ReasonError, true, err)
					return
				}
				s.answerSent = true
				s.log.Info().Msg("Answer sent")
				e.connected(s)
			})
		})
	})
}

func (e *CallEngine) onAnswer(s *CallSession, f domain.Frame) error {
	var sig domain.Signal
	if err := f.Decode(&sig); err != nil {
		return err
	}
	if !sig.Answer.Valid() {
		return fmt.Errorf("%w: invalid answer", domain.ErrProtocol)
	}
	if s.role != domain.RoleCallee || !s.offerSent {
		return fmt.Errorf("%w: unexpected answer", domain.ErrProtocol)
	}
	if s.remoteDesc != nil {
		return fmt.Errorf("%w: duplicate answer", domain.ErrProtocol)
	}
	e.setRemote(s, *sig.Answer, func() { e.connected(s) })
	return nil
}

func (e *CallEngine) onCandidate(s *CallSession, f domain.Frame) error {
	var sig domain.Signal
	if err := f.Decode(&sig); err != nil {
		return err
	}
	if sig.Candidate == nil || sig.Candidate.Candidate == "" {
		return fmt.Errorf("%w: empty candidate", domain.ErrProtocol)
	}
	if s.remoteDesc == nil {
		s.candidates.Push(*sig.Candidate)
		s.log.Debug().Int("queued", s.candidates.Len()).Msg("Remote description not set, queueing ICE candidate")
		return nil
	}
	return e.applyCandidate(s, *sig.Candidate)
}

// applyCandidate schedules c on the worker. Failures are logged there and
// never stop the session.
func (e *CallEngine) applyCandidate(s *CallSession, c domain.Candidate) error {
	runErr(e, s, "add ice candidate", func(ctx context.Context) error {
		return s.pc.AddICECandidate(ctx, c)
	}, func(err error) {
		if err != nil {
			s.log.Warn().Err(err).Msg("ICE candidate rejected, skipping")
		}
	})
	return nil
}

// setLocal applies d best-effort and then calls next.
func (e *CallEngine) setLocal(s *CallSession, d domain.Description, next func()) {
	runErr(e, s, "set local description", func(ctx context.Context) error {
		return s.pc.SetLocalDescription(ctx, d)
	}, func(err error) {
		if err != nil {
			if !e.policy.ContinueOnLocalFailure {
				e.end(s, domain.ReasonError, true, negotiationErr("set local description", err))
				return
			}
			s.log.Warn().Err(err).Str("type", string(d.Type)).Msg("Set local description failed, continuing with signaling")
		} else {
			s.localDesc = &d
		}
		next()
	})
}

// setRemote records d as the remote description, applies it best-effort and
// drains queued candidates behind it on the worker, then calls next.
func (e *CallEngine) setRemote(s *CallSession, d domain.Description, next func()) {
	runErr(e, s, "set remote description", func(ctx context.Context) error {
		return s.pc.SetRemoteDescription(ctx, d)
	}, func(err error) {
		if err != nil {
			if !e.policy.ContinueOnLocalFailure {
				e.end(s, domain.ReasonError, true, negotiationErr("set remote description", err))
				return
			}
			s.log.Warn().Err(err).Str("type", string(d.Type)).Msg("Set remote description failed, continuing with signaling")
		}
		next()
	})

	s.remoteDesc = &d
	if n := s.candidates.Len(); n > 0 {
		s.log.Debug().Int("count", n).Msg("Draining queued ICE candidates")
	}
	s.candidates.Drain(func(c domain.Candidate) error { return e.applyCandidate(s, c) })
}

func (e *CallEngine) connected(s *CallSession) {
	s.stopTimer()
	e.transition(s, domain.CallConnected)
	s.log.Info().Msg("Call connected")
}

func (e *CallEngine) armTimeout(s *CallSession) {
	if e.policy.NegotiationTimeout <= 0 || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(e.policy.NegotiationTimeout, func() {
		e.loop.post(func() {
			if s.ended || s.state == domain.CallConnected {
				return
			}
			e.end(s, domain.ReasonTimeout, true, domain.ErrNegotiationTimeout)
		})
	})
}

// end tears s down. Only the first call has any effect, whatever triggered it.
func (e *CallEngine) end(s *CallSession, reason domain.EndReason, notify bool, cause error) {
	if s.ended {
		return
	}
	s.ended = true
	e.transition(s, domain.CallEnding)

	if notify {
		if err := e.sendSignal(domain.NewSignal(domain.ActionEndCall, s.remote)); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send end-call")
		}
	}
	e.cleanup(s)
	e.transition(s, domain.CallEnded)
	e.detach(s)

	ev := s.log.Info()
	if cause != nil {
		ev = s.log.Warn().Err(cause)
	}
	ev.Str("reason", string(reason)).Msg("Call ended")

	out := domain.CallEvent{Kind: domain.EventEnded, Session: s.id, Remote: s.remote, Reason: reason}
	if cause != nil {
		out.Err = cause.Error()
	}
	e.emit(out)
}

// discard drops a session that never got its media. Nothing has been sent for
// it, so nothing is sent now, and its state stays AwaitingMedia.
func (e *CallEngine) discard(s *CallSession, cause error) {
	if s.ended {
		return
	}
	s.ended = true
	e.cleanup(s)
	e.detach(s)
	s.log.Warn().Err(cause).Msg("Call setup failed")
	e.emit(domain.CallEvent{Kind: domain.EventFailed, Session: s.id, Remote: s.remote, Err: cause.Error()})
}

func (e *CallEngine) detach(s *CallSession) {
	if e.session == s {
		e.session = nil
		e.dispatcher.Unregister()
	}
}

// cleanup releases media and the negotiator exactly once.
func (e *CallEngine) cleanup(s *CallSession) {
	if s.cleaned {
		return
	}
	s.cleaned = true

	s.stopTimer()
	s.heldOffer = nil
	s.candidates.Reset()
	s.cancel()

	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	if s.worker != nil {
		pc := s.pc
		s.worker.post(func() {
			if err := pc.Close(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to close peer connection")
			}
		})
		s.worker.stop()
	}
}

func (e *CallEngine) sendSignal(sig domain.Signal) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := e.gateway.Send(ctx, sig); err != nil {
		return fmt.Errorf("send %s: %w", sig.Action, err)
	}
	return nil
}

func negotiationErr(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s returned an empty description", domain.ErrNegotiation, op)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrNegotiation, op, err)
}

// runOp runs op on the session worker and hands the result to then on the
// loop, unless the session ended in the meantime.
func runOp[T any](e *CallEngine, s *CallSession, name string, op func(context.Context) (T, error), then func(T, error)) {
	s.worker.post(func() {
		v, err := op(s.ctx)
		e.loop.post(func() {
			if s.ended {
				s.log.Debug().Str("op", name).Msg("Session ended, dropping result")
				return
			}
			then(v, err)
		})
	})
}

func runErr(e *CallEngine, s *CallSession, name string, op func(context.Context) error, then func(error)) {
	runOp(e, s, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, func(_ struct{}, err error) {
		then(err)
	})
}
