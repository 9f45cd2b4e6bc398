package domain

import "time"

type MessageID string

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeVoice MessageType = "voice"
)

// Message is a persisted chat record. Content is either plain text or an
// opaque encoded audio payload, depending on Type. Seen transitions only
// false -> true.
type Message struct {
	ID         MessageID   `json:"messageId"`
	SenderID   Identity    `json:"senderId"`
	ReceiverID Identity    `json:"receiverId"`
	Type       MessageType `json:"messageType"`
	Content    string      `json:"content"`
	Seen       bool        `json:"seen"`
	CreatedAt  time.Time   `json:"timestamp"`
}
