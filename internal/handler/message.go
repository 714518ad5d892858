package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fast_focus/internal/domain"
	"fast_focus/internal/gateway"
	"fast_focus/internal/middleware"
	"fast_focus/internal/service"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"
)

// MessageHandler — REST-поверхность над историей сообщений. Живые клиенты
// работают через websocket; REST используется для начальной загрузки истории
// и для клиентов без постоянного соединения.
type MessageHandler struct {
	messageService service.MessageService
	gw             *gateway.Gateway
	log            logger.Logger
}

func NewMessageHandler(messageService service.MessageService, gw *gateway.Gateway, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		gw:             gw,
		log:            log,
	}
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	opts := domain.ListMessagesOptions{}
	opts.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	opts.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
			return
		}
		opts.Before = &before
	}

	page, err := h.messageService.List(c.Request.Context(), conversationID, userID, opts)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, page)
}

type SendMessageRequest struct {
	Content string             `json:"content" binding:"required"`
	Type    domain.MessageType `json:"type,omitempty"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.Send(c.Request.Context(), conversationID, userID, req.Content, req.Type)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	// Подключённые участники комнаты получают сообщение и по REST-отправке.
	h.gw.EmitToConversation(conversationID, gateway.NewEvent(gateway.EventMessageReceived, message))

	c.JSON(http.StatusCreated, message)
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *MessageHandler) Edit(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.Edit(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), messageID, userID); err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// MarkRead — REST-вариант квитанции о прочтении. Отправитель, если подключён,
// получает message_status_updated так же, как при websocket-квитанции.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	message, changed, err := h.messageService.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	if changed {
		h.gw.EmitToUser(message.SenderID, gateway.NewEvent(gateway.EventMessageStatusUpdated, gateway.MessageStatusPayload{
			MessageID: message.ID,
			Status:    message.Status,
			ReadBy:    userID,
			Timestamp: time.Now(),
		}))
	}

	c.JSON(http.StatusOK, message)
}
