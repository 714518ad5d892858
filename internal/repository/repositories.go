package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"fast_focus/pkg/logger"
)

type Repositories struct {
	User            UserRepository
	Conversation    ConversationRepository
	Message         MessageRepository
	Settings        SettingsRepository
	WebhookDelivery WebhookDeliveryRepository
	RateLimit       RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	return &Repositories{
		User:            NewUserRepository(db, log),
		Conversation:    NewConversationRepository(db, log),
		Message:         NewMessageRepository(db, log),
		Settings:        NewSettingsRepository(db, log),
		WebhookDelivery: NewWebhookDeliveryRepository(db, log),
		RateLimit:       NewRateLimitRepository(redis, log),
	}
}
