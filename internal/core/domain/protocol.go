package domain

import "time"

const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeHistory = "history"
	TypeError   = "error"
)

// JoinEnvelope subscribes the connection's user to a group.
type JoinEnvelope struct {
	Type    string `json:"type"` // "join"
	UserID  int64  `json:"userId"`
	GroupID int64  `json:"groupId"`
}

// MessageEnvelope is the inbound and outbound chat unit. Clients send
// it with an advisory Timestamp; the server re-serializes it for
// broadcast with the store-assigned ID and SentAt filled in.
type MessageEnvelope struct {
	Type      string    `json:"type"` // "message"
	ID        int64     `json:"id,omitempty"`
	UserID    int64     `json:"userId"`
	GroupID   int64     `json:"groupId"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp,omitempty"`
	SentAt    time.Time `json:"sentAt,omitzero"`
}

// HistoryEnvelope replays recent group messages to a freshly joined
// connection.
type HistoryEnvelope struct {
	Type     string            `json:"type"` // "history"
	GroupID  int64             `json:"groupId"`
	Messages []MessageEnvelope `json:"messages"`
}

// ErrorEnvelope is sent to the offending connection only.
type ErrorEnvelope struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Broadcast builds the outbound envelope for a persisted message.
func Broadcast(m *Message) MessageEnvelope {
	return MessageEnvelope{
		Type:    TypeMessage,
		ID:      m.ID,
		UserID:  m.UserID,
		GroupID: m.GroupID,
		Content: m.Content,
		SentAt:  m.SentAt,
	}
}
