package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fast_focus/internal/domain"
	"fast_focus/internal/middleware"
	"fast_focus/internal/service"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"
)

type UserHandler struct {
	presenceService service.PresenceService
	log             logger.Logger
}

func NewUserHandler(presenceService service.PresenceService, log logger.Logger) *UserHandler {
	return &UserHandler{
		presenceService: presenceService,
		log:             log,
	}
}

func (h *UserHandler) Search(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	query := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	onlineOnly := c.Query("online_only") == "true"

	page, err := h.presenceService.Search(c.Request.Context(), query, userID, limit, offset, onlineOnly)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *UserHandler) Online(c *gin.Context) {
	users, err := h.presenceService.OnlineUsers(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (h *UserHandler) GetPresence(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	presence, err := h.presenceService.GetPresence(c.Request.Context(), targetID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, presence)
}

type UpdateChatStatusRequest struct {
	Status domain.ChatStatus `json:"status" binding:"required"`
}

func (h *UserHandler) UpdateChatStatus(c *gin.Context) {
	userID, exists := middleware.UserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req UpdateChatStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.presenceService.UpdateChatStatus(c.Request.Context(), userID, req.Status); err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}
