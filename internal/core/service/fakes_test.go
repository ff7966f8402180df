package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-client/internal/core/codec"
	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

const testSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 98\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtpmap:98 VP9/90000\r\n"

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeGateway struct {
	mu    sync.Mutex
	sent  []domain.Signal
	err   error
	relay func(domain.Signal)
}

func (g *fakeGateway) Send(_ context.Context, v any) error {
	sig, ok := v.(domain.Signal)
	if !ok {
		return fmt.Errorf("unexpected payload %T", v)
	}
	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return g.err
	}
	g.sent = append(g.sent, sig)
	relay := g.relay
	g.mu.Unlock()

	if relay != nil {
		relay(sig)
	}
	return nil
}

func (g *fakeGateway) signals() []domain.Signal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Signal(nil), g.sent...)
}

func (g *fakeGateway) actions() []domain.Action {
	var out []domain.Action
	for _, s := range g.signals() {
		out = append(out, s.Action)
	}
	return out
}

func (g *fakeGateway) count(a domain.Action) int {
	n := 0
	for _, s := range g.signals() {
		if s.Action == a {
			n++
		}
	}
	return n
}

type fakeNegotiator struct {
	events port.NegotiatorEvents

	mu     sync.Mutex
	ops    []string
	closed bool

	setLocalErr  error
	setRemoteErr error
	candidateErr map[string]error
	answerGate   chan struct{}
}

func (n *fakeNegotiator) record(op string) {
	n.mu.Lock()
	n.ops = append(n.ops, op)
	n.mu.Unlock()
}

func (n *fakeNegotiator) CreateOffer(context.Context) (domain.Description, error) {
	n.record("create_offer")
	return domain.Description{Type: domain.DescriptionOffer, SDP: testSDP}, nil
}

func (n *fakeNegotiator) CreateAnswer(ctx context.Context) (domain.Description, error) {
	n.record("create_answer")
	if n.answerGate != nil {
		<-n.answerGate
	}
	return domain.Description{Type: domain.DescriptionAnswer, SDP: testSDP}, nil
}

func (n *fakeNegotiator) SetLocalDescription(_ context.Context, d domain.Description) error {
	n.record("set_local:" + string(d.Type))
	return n.setLocalErr
}

func (n *fakeNegotiator) SetRemoteDescription(_ context.Context, d domain.Description) error {
	n.record("set_remote:" + string(d.Type))
	return n.setRemoteErr
}

func (n *fakeNegotiator) AddICECandidate(_ context.Context, c domain.Candidate) error {
	n.record("candidate:" + c.Candidate)
	return n.candidateErr[c.Candidate]
}

func (n *fakeNegotiator) AddTrack(t port.Track) error {
	n.record("track:" + t.Kind())
	return nil
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func (n *fakeNegotiator) history() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}

func (n *fakeNegotiator) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeNegotiator
	prepare func(*fakeNegotiator)
}

func (f *fakeFactory) NewNegotiator(events port.NegotiatorEvents) (port.Negotiator, error) {
	n := &fakeNegotiator{events: events}
	if f.prepare != nil {
		f.prepare(n)
	}
	f.mu.Lock()
	f.created = append(f.created, n)
	f.mu.Unlock()
	return n, nil
}

func (f *fakeFactory) last(t *testing.T) *fakeNegotiator {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.created)
	return f.created[len(f.created)-1]
}

type fakeTrack struct{ id, kind string }

func (t fakeTrack) ID() string   { return t.id }
func (t fakeTrack) Kind() string { return t.kind }

type fakeStream struct {
	mu      sync.Mutex
	stopped int
}

func (s *fakeStream) Tracks() []port.Track {
	return []port.Track{fakeTrack{"a0", "audio"}, fakeTrack{"v0", "video"}}
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

func (s *fakeStream) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeMedia struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	streams []*fakeStream
}

func (m *fakeMedia) Acquire(ctx context.Context, _ domain.MediaConstraints) (port.Stream, error) {
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeStream{}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMedia) last(t *testing.T) *fakeStream {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.streams)
	return m.streams[len(m.streams)-1]
}

type harness struct {
	engine  *CallEngine
	gateway *fakeGateway
	factory *fakeFactory
	media   *fakeMedia
	events  <-chan domain.CallEvent
}

func newHarness(t *testing.T, local string, policy CallPolicy) *harness {
	t.Helper()
	h := &harness{
		gateway: &fakeGateway{},
		factory: &fakeFactory{},
		media:   &fakeMedia{},
	}
	h.engine = NewCallEngine(
		domain.NewIdentity(local),
		h.gateway,
		h.factory,
		h.media,
		codec.NewFilter(codec.DefaultExcluded...),
		NewSignalDispatcher(),
		policy,
	)
	events, cancel := h.engine.Subscribe()
	h.events = events
	t.Cleanup(func() {
		cancel()
		h.engine.Close()
	})
	return h
}

func testPolicy() CallPolicy {
	p := DefaultCallPolicy()
	p.NegotiationTimeout = 0
	return p
}

// inject delivers sig to the engine as if the backend forwarded it from sender.
func (h *harness) inject(t *testing.T, sender string, sig domain.Signal) {
	t.Helper()
	sig.Sender = domain.NewIdentity(sender)
	h.engine.HandleFrame(signalFrame(t, sig))
}

func signalFrame(t *testing.T, sig domain.Signal) domain.Frame {
	t.Helper()
	data, err := json.Marshal(sig)
	require.NoError(t, err)
	f, err := domain.DecodeFrame(data, domain.SignalTypeKey)
	require.NoError(t, err)
	return f
}

func (h *harness) state(t *testing.T) CallEngineState {
	t.Helper()
	st, err := h.engine.State(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) waitState(t *testing.T, want domain.CallState) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.state(t)
		return st.Session != nil && st.Session.State == want.String()
	}, waitFor, tick, "session never reached %s", want)
}

func (h *harness) waitEvent(t *testing.T, kind domain.EventKind) domain.CallEvent {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-h.events:
			require.True(t, ok, "event stream closed")
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func offerSignal() domain.Signal {
	sig := domain.NewSignal(domain.ActionOffer, "")
	sig.Offer = &domain.Description{Type: domain.DescriptionOffer, SDP: testSDP}
	return sig
}

func answerSignal() domain.Signal {
	sig := domain.NewSignal(domain.ActionAnswer, "")
	sig.Answer = &domain.Description{Type: domain.DescriptionAnswer, SDP: testSDP}
	return sig
}

func candidateSignal(c string) domain.Signal {
	sig := domain.NewSignal(domain.ActionCandidate, "")
	sig.Candidate = &domain.Candidate{Candidate: c}
	return sig
}
