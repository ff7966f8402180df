// Package codec rewrites session descriptions before they are sent so that
// codecs known to break on some devices are never negotiated.
package codec

import (
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// DefaultExcluded are video codecs that crash or stall native decoders on a
// range of Android devices.
var DefaultExcluded = []string{"AV1", "H265", "HEVC", "VP9"}

// Filter removes excluded codecs, and the RTX payload types bound to them,
// from every media description. It holds no state besides the exclusion set
// and is safe for concurrent use.
type Filter struct {
	excluded map[string]struct{}
}

func NewFilter(codecs ...string) *Filter {
	f := &Filter{excluded: make(map[string]struct{}, len(codecs))}
	for _, c := range codecs {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			f.excluded[c] = struct{}{}
		}
	}
	return f
}

func (f *Filter) ApplyDescription(d domain.Description) domain.Description {
	d.SDP = f.Apply(d.SDP)
	return d
}

// Apply returns body with excluded payload types stripped. Input that does not
// parse, or that needs no change, is returned as is. A media line that would
// lose every payload type is left untouched.
func (f *Filter) Apply(body string) string {
	if body == "" || len(f.excluded) == 0 {
		return body
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		log.Warn().Err(err).Msg("codec filter: unparseable description, leaving it unchanged")
		return body
	}

	changed := false
	for _, md := range desc.MediaDescriptions {
		if f.filterMedia(md) {
			changed = true
		}
	}
	if !changed {
		return body
	}

	out, err := desc.Marshal()
	if err != nil {
		log.Warn().Err(err).Msg("codec filter: marshal failed, leaving description unchanged")
		return body
	}
	return string(out)
}

func (f *Filter) filterMedia(md *sdp.MediaDescription) bool {
	remove := make(map[string]struct{})
	rtxFor := make(map[string]string) // rtx pt -> apt

	for _, attr := range md.Attributes {
		pt, rest := splitPayload(attr.Value)
		switch attr.Key {
		case "rtpmap":
			name, _, _ := strings.Cut(rest, "/")
			if _, ok := f.excluded[strings.ToUpper(strings.TrimSpace(name))]; ok {
				remove[pt] = struct{}{}
			}
		case "fmtp":
			if apt, ok := associatedPayload(rest); ok {
				rtxFor[pt] = apt
			}
		}
	}
	if len(remove) == 0 {
		return false
	}

	for grown := true; grown; {
		grown = false
		for rtx, apt := range rtxFor {
			if _, gone := remove[apt]; !gone {
				continue
			}
			if _, done := remove[rtx]; !done {
				remove[rtx] = struct{}{}
				grown = true
			}
		}
	}

	formats := make([]string, 0, len(md.MediaName.Formats))
	for _, pt := range md.MediaName.Formats {
		if _, gone := remove[pt]; !gone {
			formats = append(formats, pt)
		}
	}
	if len(formats) == 0 || len(formats) == len(md.MediaName.Formats) {
		return false
	}

	attrs := make([]sdp.Attribute, 0, len(md.Attributes))
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap", "fmtp", "rtcp-fb":
			if pt, _ := splitPayload(attr.Value); pt != "" {
				if _, gone := remove[pt]; gone {
					continue
				}
			}
		}
		attrs = append(attrs, attr)
	}

	md.MediaName.Formats = formats
	md.Attributes = attrs
	return true
}

func splitPayload(value string) (pt, rest string) {
	pt, rest, _ = strings.Cut(strings.TrimSpace(value), " ")
	return pt, strings.TrimSpace(rest)
}

func associatedPayload(params string) (string, bool) {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(k, "apt") {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
