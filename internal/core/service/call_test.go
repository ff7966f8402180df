package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// link relays everything a sends to b, stamping the sender the way the
// backend does.
func link(t *testing.T, from string, a, b *harness) {
	a.gateway.relay = func(sig domain.Signal) {
		sig.Sender = domain.NewIdentity(from)
		if sig.Action == domain.ActionCall {
			sig.Caller = sig.Sender
		}
		data, err := json.Marshal(sig)
		if err != nil {
			t.Errorf("marshal relayed signal: %v", err)
			return
		}
		f, err := domain.DecodeFrame(data, domain.SignalTypeKey)
		if err != nil {
			t.Errorf("decode relayed signal: %v", err)
			return
		}
		b.engine.HandleFrame(f)
	}
}

func TestCallEngine_FullCall(t *testing.T) {
	alice := newHarness(t, "alice", testPolicy())
	bob := newHarness(t, "bob", testPolicy())
	link(t, "alice", alice, bob)
	link(t, "bob", bob, alice)

	_, err := alice.engine.StartCall(context.Background(), "Bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bob.state(t).Incoming != nil
	}, waitFor, tick)
	require.Equal(t, domain.Identity("alice"), bob.state(t).Incoming.Caller)
	require.Nil(t, bob.state(t).Session)

	_, err = bob.engine.AcceptCall(context.Background())
	require.NoError(t, err)

	alice.waitState(t, domain.CallConnected)
	bob.waitState(t, domain.CallConnected)

	require.Equal(t, "caller", alice.state(t).Session.Role)
	require.Equal(t, "callee", bob.state(t).Session.Role)
	require.True(t, alice.state(t).Session.Accepted)

	require.Equal(t, []domain.Action{domain.ActionCall, domain.ActionAnswer}, alice.gateway.actions())
	require.Equal(t, []domain.Action{domain.ActionAccept, domain.ActionOffer}, bob.gateway.actions())

	// The offer leaves the callee with the excluded codec stripped.
	offer := bob.gateway.signals()[1].Offer
	require.NotNil(t, offer)
	require.NotContains(t, offer.SDP, "VP9")
	require.Contains(t, offer.SDP, "VP8")

	require.NoError(t, alice.engine.Hangup(context.Background()))
	bob.waitEvent(t, domain.EventEnded)
	require.Eventually(t, func() bool { return bob.state(t).Session == nil }, waitFor, tick)

	require.Equal(t, 1, alice.gateway.count(domain.ActionEndCall))
	require.Zero(t, bob.gateway.count(domain.ActionEndCall), "remote end must not be echoed")
	require.Eventually(t, func() bool {
		return alice.factory.last(t).isClosed() && bob.factory.last(t).isClosed()
	}, waitFor, tick)
}

func TestCallEngine_CallerStates(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)

	require.Equal(t, domain.EventState, h.waitEvent(t, domain.EventState).Kind)
	h.waitState(t, domain.CallDialing)
	require.Equal(t, []domain.Action{domain.ActionCall}, h.gateway.actions())
	require.Equal(t, domain.Identity("bob"), h.gateway.signals()[0].Recipient)

	h.inject(t, "bob", domain.NewSignal(domain.ActionAccept, ""))
	h.waitState(t, domain.CallRinging)
	h.waitEvent(t, domain.EventAccepted)

	h.inject(t, "bob", offerSignal())
	h.waitState(t, domain.CallConnected)

	n := h.factory.last(t)
	require.Equal(t, []string{
		"track:audio",
		"track:video",
		"set_remote:offer",
		"create_answer",
		"set_local:answer",
	}, n.history())
}

func TestCallEngine_HangupIsIdempotent(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.Hangup(context.Background()))
	}
	ev := h.waitEvent(t, domain.EventEnded)
	require.Equal(t, domain.ReasonHangup, ev.Reason)

	// A late remote end-call after teardown changes nothing.
	h.inject(t, "bob", domain.NewSignal(domain.ActionEndCall, ""))
	require.NoError(t, h.engine.Hangup(context.Background()))

	require.Nil(t, h.state(t).Session)
	require.Equal(t, 1, h.gateway.count(domain.ActionEndCall))
	require.Eventually(t, func() bool { return h.media.last(t).stops() == 1 }, waitFor, tick)
	require.Eventually(t, h.factory.last(t).isClosed, waitFor, tick)
}

func TestCallEngine_HangupWithoutSession(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	require.NoError(t, h.engine.Hangup(context.Background()))
	require.Empty(t, h.gateway.signals())
}

func TestCallEngine_QueuesCandidatesUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())
	h.media.gate = make(chan struct{})

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)

	// Everything below arrives while media is still pending.
	h.inject(t, "bob", candidateSignal("c1"))
	h.inject(t, "bob", candidateSignal("c2"))
	h.inject(t, "bob", offerSignal())
	h.inject(t, "bob", candidateSignal("c3"))

	n := h.factory.last(t)
	require.Never(t, func() bool { return len(n.history()) > 0 }, 50*time.Millisecond, tick)

	close(h.media.gate)
	h.waitState(t, domain.CallConnected)

	require.Equal(t, []string{
		"track:audio",
		"track:video",
		"set_remote:offer",
		"candidate:c1",
		"candidate:c2",
		"candidate:c3",
		"create_answer",
		"set_local:answer",
	}, n.history())
}

func TestCallEngine_BufferedFramesReachNewSession(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	// Signals that race ahead of the session are kept by the dispatcher.
	h.inject(t, "bob", domain.NewSignal(domain.ActionAccept, ""))
	h.inject(t, "bob", candidateSignal("early"))
	require.Eventually(t, func() bool { return h.engine.dispatcher.Pending() == 2 }, waitFor, tick)

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := h.state(t)
		return st.Session != nil && st.Session.Accepted
	}, waitFor, tick)
	require.Zero(t, h.engine.dispatcher.Pending())

	h.inject(t, "bob", offerSignal())
	h.waitState(t, domain.CallConnected)
	require.Contains(t, h.factory.last(t).history(), "candidate:early")
}

func TestCallEngine_FailingCandidateDoesNotStopSession(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())
	h.factory.prepare = func(n *fakeNegotiator) {
		n.candidateErr = map[string]error{"bad": errors.New("malformed candidate")}
	}

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	h.inject(t, "bob", candidateSignal("bad"))
	h.inject(t, "bob", candidateSignal("good"))
	h.inject(t, "bob", offerSignal())
	h.waitState(t, domain.CallConnected)

	hist := h.factory.last(t).history()
	require.Contains(t, hist, "candidate:bad")
	require.Contains(t, hist, "candidate:good")
}

func TestCallEngine_RemoteEndDuringAnswer(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())
	gate := make(chan struct{})
	h.factory.prepare = func(n *fakeNegotiator) { n.answerGate = gate }

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	h.inject(t, "bob", offerSignal())
	h.waitState(t, domain.CallNegotiatingAnswer)
	require.Eventually(t, func() bool {
		return len(h.factory.last(t).history()) == 4
	}, waitFor, tick, "create_answer should be in flight")

	h.inject(t, "bob", domain.NewSignal(domain.ActionEndCall, ""))
	ev := h.waitEvent(t, domain.EventEnded)
	require.Equal(t, domain.ReasonRemoteEnded, ev.Reason)

	close(gate)
	n := h.factory.last(t)
	require.Eventually(t, n.isClosed, waitFor, tick)

	require.NotContains(t, n.history(), "set_local:answer")
	require.Zero(t, h.gateway.count(domain.ActionAnswer))
	require.Zero(t, h.gateway.count(domain.ActionEndCall))
	require.Nil(t, h.state(t).Session)
}

func TestCallEngine_CalleeFlow(t *testing.T) {
	h := newHarness(t, "bob", testPolicy())

	_, err := h.engine.Open(context.Background(), domain.CallRequest{
		Remote: domain.NewIdentity("alice"),
		Role:   domain.RoleCallee,
	})
	require.NoError(t, err)

	h.waitState(t, domain.CallNegotiatingOffer)
	require.Eventually(t, func() bool { return h.gateway.count(domain.ActionOffer) == 1 }, waitFor, tick)

	// An offer aimed at the callee is glare and ignored.
	h.inject(t, "alice", offerSignal())
	h.inject(t, "alice", answerSignal())
	h.waitState(t, domain.CallConnected)

	require.Equal(t, []string{
		"track:audio",
		"track:video",
		"create_offer",
		"set_local:offer",
		"set_remote:answer",
	}, h.factory.last(t).history())
}

func TestCallEngine_SetLocalFailure(t *testing.T) {
	t.Run("continues by default", func(t *testing.T) {
		h := newHarness(t, "bob", testPolicy())
		h.factory.prepare = func(n *fakeNegotiator) { n.setLocalErr = errors.New("rejected") }

		_, err := h.engine.Open(context.Background(), domain.CallRequest{Remote: "alice", Role: domain.RoleCallee})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return h.gateway.count(domain.ActionOffer) == 1 }, waitFor, tick)
		require.Equal(t, domain.CallNegotiatingOffer.String(), h.state(t).Session.State)
	})

	t.Run("ends when strict", func(t *testing.T) {
		p := testPolicy()
		p.ContinueOnLocalFailure = false
		h := newHarness(t, "bob", p)
		h.factory.prepare = func(n *fakeNegotiator) { n.setLocalErr = errors.New("rejected") }

		_, err := h.engine.Open(context.Background(), domain.CallRequest{Remote: "alice", Role: domain.RoleCallee})
		require.NoError(t, err)

		ev := h.waitEvent(t, domain.EventEnded)
		require.Equal(t, domain.ReasonError, ev.Reason)
		require.Contains(t, ev.Err, "set local description")
		require.Zero(t, h.gateway.count(domain.ActionOffer))
		require.Equal(t, 1, h.gateway.count(domain.ActionEndCall))
	})
}

func TestCallEngine_RoleRequired(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.Open(context.Background(), domain.CallRequest{Remote: "bob"})
	require.ErrorIs(t, err, domain.ErrRoleRequired)
	require.Nil(t, h.state(t).Session)
	require.Empty(t, h.factory.created)
}

func TestCallEngine_MediaFailure(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())
	h.media.err = fmt.Errorf("%w: camera blocked", domain.ErrPermission)

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)

	ev := h.waitEvent(t, domain.EventFailed)
	require.Contains(t, ev.Err, "permission")
	require.Nil(t, h.state(t).Session)
	require.Empty(t, h.gateway.signals(), "nothing goes out for a call that never got media")
	require.Eventually(t, h.factory.last(t).isClosed, waitFor, tick)
}

func TestCallEngine_NegotiationTimeout(t *testing.T) {
	p := testPolicy()
	p.NegotiationTimeout = 50 * time.Millisecond
	h := newHarness(t, "alice", p)

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)

	ev := h.waitEvent(t, domain.EventEnded)
	require.Equal(t, domain.ReasonTimeout, ev.Reason)
	require.Equal(t, []domain.Action{domain.ActionCall, domain.ActionEndCall}, h.gateway.actions())
}

func TestCallEngine_Decline(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	h.inject(t, "bob", domain.NewSignal(domain.ActionDecline, ""))
	ev := h.waitEvent(t, domain.EventEnded)
	require.Equal(t, domain.ReasonDeclined, ev.Reason)
	require.Zero(t, h.gateway.count(domain.ActionEndCall))
}

func TestCallEngine_IncomingCall(t *testing.T) {
	t.Run("decline", func(t *testing.T) {
		h := newHarness(t, "bob", testPolicy())

		call := domain.NewSignal(domain.ActionCall, "bob")
		call.Caller = "Alice"
		h.inject(t, "alice", call)
		ev := h.waitEvent(t, domain.EventIncoming)
		require.Equal(t, domain.Identity("alice"), ev.Remote)

		require.NoError(t, h.engine.DeclineCall(context.Background()))
		require.Equal(t, []domain.Action{domain.ActionDecline}, h.gateway.actions())
		require.Equal(t, domain.Identity("alice"), h.gateway.signals()[0].Recipient)
		require.Nil(t, h.state(t).Incoming)

		require.ErrorIs(t, h.engine.DeclineCall(context.Background()), domain.ErrNoIncomingCall)
		_, err := h.engine.AcceptCall(context.Background())
		require.ErrorIs(t, err, domain.ErrNoIncomingCall)
	})

	t.Run("caller gives up", func(t *testing.T) {
		h := newHarness(t, "bob", testPolicy())

		h.inject(t, "alice", domain.NewSignal(domain.ActionCall, "bob"))
		h.waitEvent(t, domain.EventIncoming)

		h.inject(t, "alice", domain.NewSignal(domain.ActionEndCall, "bob"))
		ev := h.waitEvent(t, domain.EventEnded)
		require.Equal(t, domain.ReasonRemoteEnded, ev.Reason)
		require.Nil(t, h.state(t).Incoming)
		require.Zero(t, h.engine.dispatcher.Pending())
	})

	t.Run("ignored while a session is active", func(t *testing.T) {
		h := newHarness(t, "bob", testPolicy())

		_, err := h.engine.StartCall(context.Background(), "alice")
		require.NoError(t, err)
		h.waitState(t, domain.CallDialing)

		h.inject(t, "carol", domain.NewSignal(domain.ActionCall, "bob"))
		require.Never(t, func() bool { return h.state(t).Incoming != nil }, 50*time.Millisecond, tick)
		require.Equal(t, domain.Identity("alice"), h.state(t).Session.Remote)
	})
}

func TestCallEngine_DropsFramesFromOtherPeers(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.StartCall(context.Background(), "BoB")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	h.inject(t, "mallory", domain.NewSignal(domain.ActionEndCall, ""))
	h.inject(t, "mallory", domain.NewSignal(domain.ActionAccept, ""))
	require.Never(t, func() bool {
		st := h.state(t)
		return st.Session == nil || st.Session.Accepted
	}, 50*time.Millisecond, tick)

	// Identities compare case-insensitively.
	h.inject(t, "BOB", domain.NewSignal(domain.ActionAccept, ""))
	h.waitState(t, domain.CallRinging)
}

func TestCallEngine_SignalingLoss(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	h.engine.SignalingStateChanged(domain.ChannelOpen)
	h.engine.SignalingStateChanged(domain.ChannelDisconnected)

	ev := h.waitEvent(t, domain.EventEnded)
	require.Equal(t, domain.ReasonConnectionLost, ev.Reason)
	require.Zero(t, h.gateway.count(domain.ActionEndCall))
}

func TestCallEngine_NewCallReplacesSession(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	first, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	second, err := h.engine.StartCall(context.Background(), "carol")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ev := h.waitEvent(t, domain.EventEnded)
	require.Equal(t, first, ev.Session)
	require.Equal(t, domain.ReasonReplaced, ev.Reason)

	h.waitState(t, domain.CallDialing)
	require.Equal(t, domain.Identity("carol"), h.state(t).Session.Remote)
	require.Equal(t, domain.Identity("bob"), h.gateway.signals()[1].Recipient)
	require.Equal(t, domain.ActionEndCall, h.gateway.signals()[1].Action)
}

func TestCallEngine_Close(t *testing.T) {
	h := newHarness(t, "alice", testPolicy())

	_, err := h.engine.StartCall(context.Background(), "bob")
	require.NoError(t, err)
	h.waitState(t, domain.CallDialing)

	h.engine.Close()
	require.Equal(t, 1, h.gateway.count(domain.ActionEndCall))

	_, err = h.engine.StartCall(context.Background(), "bob")
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = h.engine.State(context.Background())
	require.ErrorIs(t, err, ErrEngineClosed)
}
