package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second // время на запись одного кадра
	pongWait       = 60 * time.Second // время ожидания pong от клиента
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufSize    = 256 // размер исходящего буфера соединения
	sendTimeout    = 2 * time.Second
)

// Client — одно websocket-соединение, привязанное ровно к одному
// аутентифицированному пользователю.
type Client struct {
	id     uuid.UUID
	userID uuid.UUID
	conn   *websocket.Conn
	gw     *Gateway
	egress chan Event

	roomsMu sync.RWMutex
	rooms   map[uuid.UUID]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	discOnce sync.Once
}

func newClient(userID uuid.UUID, conn *websocket.Conn, gw *Gateway) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		gw:     gw,
		egress: make(chan Event, sendBufSize),
		rooms:  make(map[uuid.UUID]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) trackRoom(conversationID uuid.UUID) {
	c.roomsMu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.roomsMu.Unlock()
}

func (c *Client) untrackRoom(conversationID uuid.UUID) {
	c.roomsMu.Lock()
	delete(c.rooms, conversationID)
	c.roomsMu.Unlock()
}

func (c *Client) inRoom(conversationID uuid.UUID) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	_, ok := c.rooms[conversationID]
	return ok
}

func (c *Client) joinedRooms() []uuid.UUID {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	out := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Send ставит событие в исходящий буфер. Медленный потребитель с полным
// буфером отключается, чтобы не тормозить fan-out комнаты.
func (c *Client) Send(ev Event) bool {
	select {
	case c.egress <- ev:
		return true
	case <-c.ctx.Done():
		return false
	case <-time.After(sendTimeout):
		c.gw.log.Warn("Egress buffer full, dropping client", "client_id", c.id, "user_id", c.userID)
		// Асинхронно: Send может вызываться под локом шарда комнаты,
		// который Disconnect берёт сам.
		go c.gw.Disconnect(c)
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.gw.Disconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.gw.log.Debug("Client disconnected", "client_id", c.id, "user_id", c.userID)
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.gw.log.Debug("Client read timeout", "client_id", c.id)
				return
			}
			c.gw.log.Warn("Client read error", "client_id", c.id, "error", err)
			return
		}

		c.gw.handleEvent(c, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.gw.log.Warn("Client write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
	})
}
