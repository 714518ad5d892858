package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChatStatus string

const (
	ChatStatusAvailable ChatStatus = "AVAILABLE"
	ChatStatusBusy      ChatStatus = "BUSY"
	ChatStatusAway      ChatStatus = "AWAY"
)

func (s ChatStatus) Valid() bool {
	switch s {
	case ChatStatusAvailable, ChatStatusBusy, ChatStatusAway:
		return true
	}
	return false
}

type User struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	Name       *string    `json:"name,omitempty"`
	Timezone   string     `json:"timezone"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	ChatStatus ChatStatus `json:"chat_status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// UserPresence — срез пользователя, который отдаётся в чат (без приватных полей).
type UserPresence struct {
	ID         uuid.UUID  `json:"id"`
	Name       *string    `json:"name,omitempty"`
	Email      string     `json:"email"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	ChatStatus ChatStatus `json:"chat_status"`
}

type UserPage struct {
	Users []*UserPresence `json:"users"`
	Total int             `json:"total"`
}
