package domain

import (
	"encoding/json"
	"fmt"
)

const (
	// SignalTypeKey and ChatTypeKey name the field carrying the frame type on
	// the signaling and chat channels respectively.
	SignalTypeKey = "action"
	ChatTypeKey   = "source"
)

// Frame is one decoded inbound message. Payload keeps the whole JSON object so
// handlers can decode the fields they care about.
type Frame struct {
	Type    string
	Sender  Identity
	Payload json.RawMessage
}

func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %q: %v", ErrProtocol, f.Type, err)
	}
	return nil
}

// DecodeFrame parses raw channel bytes. typeKey selects which field holds the
// frame type. The sender is taken from "sender", or "caller" for call
// notifications.
func DecodeFrame(data []byte, typeKey string) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var typ string
	if raw, ok := fields[typeKey]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return Frame{}, fmt.Errorf("%w: %s is not a string", ErrProtocol, typeKey)
		}
	}
	if typ == "" {
		return Frame{}, fmt.Errorf("%w: missing %s", ErrProtocol, typeKey)
	}

	f := Frame{Type: typ, Payload: json.RawMessage(data)}
	for _, key := range []string{"sender", "caller"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var sender Identity
		if err := json.Unmarshal(raw, &sender); err == nil && !sender.IsZero() {
			f.Sender = sender
			break
		}
	}
	return f, nil
}
