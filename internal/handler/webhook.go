package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fast_focus/internal/config"
	"fast_focus/internal/domain"
	"fast_focus/internal/middleware"
	"fast_focus/internal/webhook"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"
)

// WebhookHandler — административная поверхность журнала доставок.
type WebhookHandler struct {
	dispatcher webhook.Dispatcher
	cfg        *config.Config
	log        logger.Logger
}

func NewWebhookHandler(dispatcher webhook.Dispatcher, cfg *config.Config, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	deliveries, total, err := h.dispatcher.ListDeliveries(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "total": total})
}

func (h *WebhookHandler) RetryDelivery(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	deliveryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery ID"})
		return
	}

	delivery, err := h.dispatcher.RetryFailedDelivery(c.Request.Context(), deliveryID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	// Журнал доставок персональный: чужие записи не раскрываются.
	if delivery.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	c.JSON(http.StatusOK, delivery)
}

// Test отправляет проверочную нотификацию на настроенный URL пользователя.
func (h *WebhookHandler) Test(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	now := time.Now().UTC()
	delivery, err := h.dispatcher.Dispatch(c.Request.Context(), userID, domain.WebhookPayload{
		Event:              "webhook.test",
		UserID:             userID.String(),
		SessionID:          uuid.NewString(),
		StartAt:            now.Format(time.RFC3339),
		DurationPlannedSec: 0,
		Timezone:           "UTC",
		AppVersion:         h.cfg.Webhook.AppVersion,
	})
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}
	if delivery == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook URL is not configured"})
		return
	}

	c.JSON(http.StatusAccepted, delivery)
}
