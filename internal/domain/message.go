package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusRead      MessageStatus = "READ"
)

// Rank задаёт порядок статусов: переходы допустимы только вперёд.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

// MessageSender — денормализованная сводка отправителя, вложенная в сообщение.
type MessageSender struct {
	ID       uuid.UUID `json:"id"`
	Name     *string   `json:"name,omitempty"`
	Email    string    `json:"email"`
	IsOnline bool      `json:"is_online"`
}

type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	SenderID       uuid.UUID      `json:"sender_id"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	Status         MessageStatus  `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	Sender         *MessageSender `json:"sender,omitempty"`
}

type MessagePage struct {
	Messages []*Message `json:"messages"`
	Total    int        `json:"total"`
	HasMore  bool       `json:"has_more"`
}

// ListMessagesOptions — параметры страницы истории. Before фильтрует строго
// более старые сообщения (обратная пагинация).
type ListMessagesOptions struct {
	Limit  int
	Offset int
	Before *time.Time
}

const (
	MessagesDefaultLimit = 50
	MessagesMaxLimit     = 100
)

func (o *ListMessagesOptions) Normalize() {
	if o.Limit <= 0 || o.Limit > MessagesMaxLimit {
		o.Limit = MessagesDefaultLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
