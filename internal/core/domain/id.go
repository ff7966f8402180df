package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Identity is a peer's username in canonical form. Usernames are compared
// case-insensitively everywhere, so the canonical form is lowercase.
type Identity string

func NewIdentity(s string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(s)))
}

func (id Identity) String() string {
	return string(id)
}

func (id Identity) IsZero() bool {
	return id == ""
}

// Equal reports whether both identities name the same peer.
func (id Identity) Equal(other Identity) bool {
	return NewIdentity(string(id)) == NewIdentity(string(other))
}

func (id Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewIdentity(string(id)).String())
}

func (id *Identity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*id = NewIdentity(s)
	return nil
}

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func (s SessionID) String() string {
	return string(s)
}

// MessageID and ConnectionID are assigned by the chat backend.
type MessageID int64

type ConnectionID int64
