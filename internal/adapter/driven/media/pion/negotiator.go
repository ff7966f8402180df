package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

var errForeignTrack = errors.New("track was not produced by the pion media source")

const pliInterval = 3 * time.Second

// localTrack is implemented by tracks that can be attached to a pion peer
// connection.
type localTrack interface {
	Local() webrtc.TrackLocal
}

// Factory creates pion peer connections that share one API and media engine.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(iceServers []string) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	// Default NACK and RTCP report interceptors.
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	cfg := webrtc.Configuration{
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		config: cfg,
	}, nil
}

func (f *Factory) NewNegotiator(events port.NegotiatorEvents) (port.Negotiator, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	n := &Negotiator{pc: pc, done: make(chan struct{})}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.OnICECandidate == nil {
			return
		}
		init := c.ToJSON()
		events.OnICECandidate(domain.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Str("track", remote.ID()).Msg("Received remote track")
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go n.requestKeyframes(uint32(remote.SSRC()))
		}
		if events.OnTrack != nil {
			events.OnTrack(remote.Kind().String(), remote.ID())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if events.OnConnectionStateChange != nil {
			events.OnConnectionStateChange(s.String())
		}
	})

	return n, nil
}

// Negotiator wraps one pion peer connection.
type Negotiator struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	done      chan struct{}
}

func (n *Negotiator) CreateOffer(ctx context.Context) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return domain.Description{}, err
	}
	sd, err := n.pc.CreateOffer(nil)
	if err != nil {
		return domain.Description{}, err
	}
	return fromPion(sd), nil
}

func (n *Negotiator) CreateAnswer(ctx context.Context) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return domain.Description{}, err
	}
	sd, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return domain.Description{}, err
	}
	return fromPion(sd), nil
}

func (n *Negotiator) SetLocalDescription(ctx context.Context, d domain.Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.pc.SetLocalDescription(toPion(d))
}

func (n *Negotiator) SetRemoteDescription(ctx context.Context, d domain.Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.pc.SetRemoteDescription(toPion(d))
}

func (n *Negotiator) AddICECandidate(ctx context.Context, c domain.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (n *Negotiator) AddTrack(t port.Track) error {
	lt, ok := t.(localTrack)
	if !ok {
		return fmt.Errorf("%w: %s", errForeignTrack, t.ID())
	}
	_, err := n.pc.AddTrack(lt.Local())
	return err
}

func (n *Negotiator) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		err = n.pc.Close()
	})
	return err
}

// requestKeyframes sends a PLI right away and then periodically until the
// connection closes.
func (n *Negotiator) requestKeyframes(ssrc uint32) {
	send := func() bool {
		err := n.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
		return err == nil
	}
	if !send() {
		return
	}

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func toPion(d domain.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(d.Type)), SDP: d.SDP}
}

func fromPion(sd webrtc.SessionDescription) domain.Description {
	return domain.Description{Type: domain.DescriptionType(sd.Type.String()), SDP: sd.SDP}
}
