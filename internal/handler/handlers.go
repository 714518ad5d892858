package handler

import (
	"fast_focus/internal/config"
	"fast_focus/internal/gateway"
	"fast_focus/internal/middleware"
	"fast_focus/internal/service"
	"fast_focus/internal/webhook"
	"fast_focus/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	User         *UserHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	Webhook      *WebhookHandler
	Pomodoro     *PomodoroHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(
	services *service.Services,
	gw *gateway.Gateway,
	dispatcher webhook.Dispatcher,
	auth *middleware.AuthMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(cfg),
		User:         NewUserHandler(services.Presence, log),
		Conversation: NewConversationHandler(services.Conversation, log),
		Message:      NewMessageHandler(services.Message, gw, log),
		Webhook:      NewWebhookHandler(dispatcher, cfg, log),
		Pomodoro:     NewPomodoroHandler(dispatcher, cfg, log),
		WebSocket:    NewWebSocketHandler(gw, auth, log),
	}
}
