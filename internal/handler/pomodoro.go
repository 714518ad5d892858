package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fast_focus/internal/config"
	"fast_focus/internal/domain"
	"fast_focus/internal/middleware"
	"fast_focus/internal/webhook"
	"fast_focus/pkg/logger"
)

// PomodoroHandler принимает события жизненного цикла таймера от внешней части
// приложения и конвертирует их в исходящие нотификации. Отправка
// fire-and-forget: ошибки доставки инициатору не возвращаются.
type PomodoroHandler struct {
	dispatcher webhook.Dispatcher
	cfg        *config.Config
	log        logger.Logger
}

func NewPomodoroHandler(dispatcher webhook.Dispatcher, cfg *config.Config, log logger.Logger) *PomodoroHandler {
	return &PomodoroHandler{
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

type PomodoroEventRequest struct {
	Event              string              `json:"event" binding:"required"`
	SessionID          string              `json:"session_id" binding:"required"`
	Task               *domain.WebhookTask `json:"task,omitempty"`
	StartAt            string              `json:"start_at" binding:"required"`
	EndAt              *string             `json:"end_at,omitempty"`
	DurationPlannedSec int                 `json:"duration_planned_sec"`
	DurationActualSec  *int                `json:"duration_actual_sec,omitempty"`
	Timezone           string              `json:"timezone"`
}

var pomodoroEvents = map[string]struct{}{
	"pomodoro.started":   {},
	"pomodoro.completed": {},
	"break.completed":    {},
}

func (h *PomodoroHandler) PublishEvent(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req PomodoroEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := pomodoroEvents[req.Event]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event"})
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	payload := domain.WebhookPayload{
		Event:              req.Event,
		UserID:             userID.String(),
		SessionID:          req.SessionID,
		Task:               req.Task,
		StartAt:            req.StartAt,
		EndAt:              req.EndAt,
		DurationPlannedSec: req.DurationPlannedSec,
		DurationActualSec:  req.DurationActualSec,
		Timezone:           timezone,
		AppVersion:         h.cfg.Webhook.AppVersion,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := h.dispatcher.Dispatch(ctx, userID, payload); err != nil {
			h.log.Error("Failed to dispatch webhook", "user_id", userID, "event", req.Event, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Event accepted"})
}
