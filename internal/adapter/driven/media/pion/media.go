package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
	"github.com/Wyydra/ya-client/internal/core/port"
)

const opusFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SampleSource produces local tracks fed from static samples rather than
// capture devices. Audio carries silence; video carries nothing until a
// writer is attached.
type SampleSource struct {
	streamID string
}

func NewSampleSource(streamID string) *SampleSource {
	if streamID == "" {
		streamID = "ya-client"
	}
	return &SampleSource{streamID: streamID}
}

func (s *SampleSource) Acquire(ctx context.Context, c domain.MediaConstraints) (port.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMedia, err)
	}
	if !c.Audio && c.Video == nil {
		return nil, fmt.Errorf("%w: no audio or video requested", domain.ErrMedia)
	}

	st := &SampleStream{done: make(chan struct{})}
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", s.streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: audio track: %v", domain.ErrMedia, err)
		}
		st.tracks = append(st.tracks, &SampleTrack{track: t, kind: "audio"})
		go st.pumpSilence(t)
	}
	if c.Video != nil {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", s.streamID)
		if err != nil {
			st.Stop()
			return nil, fmt.Errorf("%w: video track: %v", domain.ErrMedia, err)
		}
		st.tracks = append(st.tracks, &SampleTrack{track: t, kind: "video"})
	}

	log.Debug().Int("tracks", len(st.tracks)).Bool("audio", c.Audio).Bool("video", c.Video != nil).Msg("Local media acquired")
	return st, nil
}

type SampleTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  string
}

func (t *SampleTrack) ID() string               { return t.track.ID() }
func (t *SampleTrack) Kind() string             { return t.kind }
func (t *SampleTrack) Local() webrtc.TrackLocal { return t.track }

// Sample exposes the writable track, for feeding video frames.
func (t *SampleTrack) Sample() *webrtc.TrackLocalStaticSample { return t.track }

type SampleStream struct {
	tracks []port.Track

	stopOnce sync.Once
	done     chan struct{}
}

func (s *SampleStream) Tracks() []port.Track {
	return append([]port.Track(nil), s.tracks...)
}

func (s *SampleStream) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *SampleStream) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *SampleStream) pumpSilence(t *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// Unbound tracks discard the write.
			if err := t.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				log.Debug().Err(err).Msg("Silence write failed")
				return
			}
		}
	}
}
