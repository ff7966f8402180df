package domain

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

type User struct {
	Username  Identity `json:"username"`
	Name      string   `json:"name,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
}

type Message struct {
	ID           MessageID     `json:"id"`
	ConnectionID ConnectionID  `json:"connection"`
	Sender       *User         `json:"sender,omitempty"`
	Text         string        `json:"text"`
	Status       MessageStatus `json:"status,omitempty"`
	Created      string        `json:"created,omitempty"`
}

func (m Message) SentBy(id Identity) bool {
	return m.Sender != nil && m.Sender.Username.Equal(id)
}

// ChatRequest is an outbound chat-channel frame.
type ChatRequest struct {
	Source       string        `json:"source"`
	ConnectionID *ConnectionID `json:"connection_id,omitempty"`
	Text         string        `json:"text,omitempty"`
	Next         *int          `json:"next,omitempty"`
	Username     Identity      `json:"username,omitempty"`
	MessageID    *MessageID    `json:"message_id,omitempty"`
}

const (
	SourceMessageSend      = "message.send"
	SourceMessageList      = "message.list"
	SourceMessageTyping    = "message.typing"
	SourceMessageRead      = "message.read"
	SourceMessageDelivered = "message.delivered"
	SourceUserStatus       = "user.status"
	SourceRequestList      = "request.list"
	SourceFriendList       = "friend.list"
)

func NewSendMessage(connID ConnectionID, text string) (ChatRequest, error) {
	if text == "" {
		return ChatRequest{}, ErrEmptyMessage
	}
	return ChatRequest{
		Source:       SourceMessageSend,
		ConnectionID: &connID,
		Text:         text,
	}, nil
}
