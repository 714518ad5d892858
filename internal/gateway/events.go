package gateway

import (
	"encoding/json"
	"time"

	"fast_focus/internal/domain"

	"github.com/google/uuid"
)

// Входящие события клиента.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkMessageRead   = "mark_message_read"
	EventUpdateChatStatus  = "update_chat_status"
	EventPing              = "ping"
)

// Исходящие события сервера.
const (
	EventUserConnected          = "user_connected"
	EventUserDisconnected       = "user_disconnected"
	EventConversationJoined     = "conversation_joined"
	EventConversationLeft       = "conversation_left"
	EventUserJoinedConversation = "user_joined_conversation"
	EventUserLeftConversation   = "user_left_conversation"
	EventMessageReceived        = "message_received"
	EventMessageStatusUpdated   = "message_status_updated"
	EventUserStatusChanged      = "user_status_changed"
	EventPong                   = "pong"
	EventError                  = "error"
)

// Event — конверт протокола: имя события и произвольный JSON-payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload собирается сервером, сюда попадать не должны.
		return Event{Event: name}
	}
	return Event{Event: name, Data: data}
}

type ConnectionPayload struct {
	UserID    uuid.UUID `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ConversationRef struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type ConversationEventPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type SendMessagePayload struct {
	ConversationID uuid.UUID          `json:"conversation_id"`
	Content        string             `json:"content"`
	Type           domain.MessageType `json:"type,omitempty"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id,omitempty"`
}

type MarkReadPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type ChatStatusPayload struct {
	Status domain.ChatStatus `json:"status"`
}

type UserStatusChangedPayload struct {
	UserID    uuid.UUID         `json:"user_id"`
	Status    domain.ChatStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

type MessageStatusPayload struct {
	MessageID uuid.UUID            `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
	ReadBy    uuid.UUID            `json:"read_by"`
	Timestamp time.Time            `json:"timestamp"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload — ошибка, адресованная только инициатору события.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
