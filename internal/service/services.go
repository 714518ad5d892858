package service

import (
	"fast_focus/internal/repository"
	"fast_focus/pkg/logger"
)

type Services struct {
	Presence     PresenceService
	Conversation ConversationService
	Message      MessageService
	RateLimit    RateLimitService
}

func NewServices(repos *repository.Repositories, log logger.Logger) *Services {
	return &Services{
		Presence:     NewPresenceService(repos.User, log),
		Conversation: NewConversationService(repos.Conversation, repos.User, log),
		Message:      NewMessageService(repos.Message, repos.Conversation, log),
		RateLimit:    NewRateLimitService(repos.RateLimit, log),
	}
}
