package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

// CallSession is the state of one call attempt. Every field is owned by the
// engine loop; only the worker touches pc, and only through closures the
// loop hands it.
type CallSession struct {
	id     domain.SessionID
	local  domain.Identity
	remote domain.Identity
	role   domain.Role
	state  domain.CallState

	localDesc  *domain.Description
	remoteDesc *domain.Description
	heldOffer  *domain.Description
	candidates CandidateQueue

	mediaReady bool
	accepted   bool
	offerSent  bool
	answerSent bool

	// ended and cleaned only ever go from false to true.
	ended   bool
	cleaned bool

	stream port.Stream
	pc     port.Negotiator
	worker *mailbox
	router *Router
	timer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func newCallSession(local domain.Identity, req domain.CallRequest) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	id := domain.NewSessionID()
	return &CallSession{
		id:     id,
		local:  domain.NewIdentity(local.String()),
		remote: domain.NewIdentity(req.Remote.String()),
		role:   req.Role,
		state:  domain.CallIdle,
		ctx:    ctx,
		cancel: cancel,
		log: log.With().
			Str("session_id", id.String()).
			Str("remote", req.Remote.String()).
			Str("role", req.Role.String()).
			Logger(),
	}
}

func (s *CallSession) ID() domain.SessionID { return s.id }

func (s *CallSession) State() domain.CallState { return s.state }

func (s *CallSession) Snapshot() domain.CallSnapshot {
	return domain.CallSnapshot{
		ID:         s.id,
		Local:      s.local,
		Remote:     s.remote,
		Role:       s.role.String(),
		State:      s.state.String(),
		MediaReady: s.mediaReady,
		Accepted:   s.accepted,
	}
}

// fromRemote reports whether f may belong to this session. Frames that carry
// no sender are accepted.
func (s *CallSession) fromRemote(f domain.Frame) bool {
	return f.Sender.IsZero() || f.Sender.Equal(s.remote)
}

func (s *CallSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
