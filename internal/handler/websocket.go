package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fast_focus/internal/gateway"
	"fast_focus/internal/middleware"
	"fast_focus/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене нужно проверять origin
	},
}

// WebSocketHandler — транспортный адаптер шлюза: проверяет токен, апгрейдит
// соединение и передаёт его шлюзу.
type WebSocketHandler struct {
	gw   *gateway.Gateway
	auth *middleware.AuthMiddleware
	log  logger.Logger
}

func NewWebSocketHandler(gw *gateway.Gateway, auth *middleware.AuthMiddleware, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		gw:   gw,
		auth: auth,
		log:  log,
	}
}

// Handle обслуживает GET /ws?token=<jwt>. Токен приходит query-параметром,
// потому что браузерный WebSocket API не позволяет выставить заголовки.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	userID, err := h.auth.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	h.gw.HandleConnection(conn, userID)
}
