package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationTypeDirect ConversationType = "DIRECT"
	ConversationTypeGroup  ConversationType = "GROUP"
)

type Conversation struct {
	ID            uuid.UUID        `json:"id"`
	Type          ConversationType `json:"type"`
	Name          *string          `json:"name,omitempty"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type ConversationParticipant struct {
	ConversationID uuid.UUID     `json:"conversation_id"`
	UserID         uuid.UUID     `json:"user_id"`
	JoinedAt       time.Time     `json:"joined_at"`
	LastReadAt     *time.Time    `json:"last_read_at,omitempty"`
	User           *UserPresence `json:"user,omitempty"`
}

// MessagePreview — последнее сообщение диалога в списке диалогов.
type MessagePreview struct {
	ID         uuid.UUID `json:"id"`
	Content    string    `json:"content"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName *string   `json:"sender_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ConversationSummary struct {
	ID            uuid.UUID                  `json:"id"`
	Type          ConversationType           `json:"type"`
	Name          *string                    `json:"name,omitempty"`
	LastMessage   *MessagePreview            `json:"last_message,omitempty"`
	LastMessageAt *time.Time                 `json:"last_message_at,omitempty"`
	UnreadCount   int                        `json:"unread_count"`
	Participants  []*ConversationParticipant `json:"participants"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

type ConversationPage struct {
	Conversations []*ConversationSummary `json:"conversations"`
	Total         int                    `json:"total"`
	HasMore       bool                   `json:"has_more"`
}

// CreateConversationInput — запрос на создание диалога.
// Для DIRECT заполняется ParticipantID, для GROUP — Name и ParticipantIDs.
type CreateConversationInput struct {
	Type           ConversationType `json:"type"`
	Name           *string          `json:"name,omitempty"`
	ParticipantID  *uuid.UUID       `json:"participant_id,omitempty"`
	ParticipantIDs []uuid.UUID      `json:"participant_ids,omitempty"`
}
