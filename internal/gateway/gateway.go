package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"fast_focus/internal/domain"
	"fast_focus/internal/service"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	roomShards   = 32
	opTimeout    = 10 * time.Second // бюджет на одну операцию с I/O
	closeTimeout = 5 * time.Second
)

// roomShard хранит часть комнат. Мьютекс шарда — точка сериализации
// комнаты: изменение состава и fan-out одной комнаты линеаризуются, разные
// шарды работают полностью параллельно.
type roomShard struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]map[*Client]struct{}
}

// Gateway — ядро реального времени: владеет соответствием
// соединение-пользователь, составом комнат и маршрутизацией событий.
type Gateway struct {
	presence      service.PresenceService
	conversations service.ConversationService
	messages      service.MessageService
	typing        *TypingRegistry
	log           logger.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]*Client

	shards [roomShards]*roomShard
}

func New(presence service.PresenceService, conversations service.ConversationService, messages service.MessageService, log logger.Logger) *Gateway {
	g := &Gateway{
		presence:      presence,
		conversations: conversations,
		messages:      messages,
		typing:        NewTypingRegistry(DefaultTypingTTL),
		log:           log,
		conns:         make(map[uuid.UUID]*Client),
	}
	for i := range g.shards {
		g.shards[i] = &roomShard{rooms: make(map[uuid.UUID]map[*Client]struct{})}
	}

	// Истечение таймера набора — неявный typing_stop остальным в комнате.
	g.typing.OnExpire(func(conversationID, userID uuid.UUID) {
		g.mu.RLock()
		self := g.conns[userID]
		g.mu.RUnlock()
		g.broadcast(conversationID, self, NewEvent(EventTypingStop, TypingPayload{
			ConversationID: conversationID,
			UserID:         userID,
		}))
	})

	return g
}

// HandleConnection обслуживает одно websocket-соединение до его закрытия.
// Вызывается транспортным адаптером после upgrade.
func (g *Gateway) HandleConnection(conn *websocket.Conn, userID uuid.UUID) {
	c := newClient(userID, conn, g)

	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	err := g.Authenticate(ctx, c)
	cancel()
	if err != nil {
		// Непрошедшее аутентификацию соединение закрывается сразу и не
		// порождает дальнейших событий.
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(NewEvent(EventError, ErrorPayload{
			Event:   "authenticate",
			Message: "authentication failed",
		}))
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// Authenticate проверяет, что заявленный пользователь существует, помечает
// его online и регистрирует соединение. Новое соединение того же пользователя
// перезаписывает старое для прямой адресации (last-write-wins), но старый
// сокет принудительно не закрывается.
func (g *Gateway) Authenticate(ctx context.Context, c *Client) error {
	if _, err := g.presence.GetPresence(ctx, c.userID); err != nil {
		g.log.Warn("Connection authentication failed", "user_id", c.userID, "error", err)
		return err
	}

	g.mu.Lock()
	g.conns[c.userID] = c
	g.mu.Unlock()

	if err := g.presence.SetOnline(ctx, c.userID); err != nil {
		g.log.Error("Failed to mark user online", "user_id", c.userID, "error", err)
	}

	c.Send(NewEvent(EventUserConnected, ConnectionPayload{
		UserID:    c.userID,
		Timestamp: time.Now(),
	}))

	g.log.Info("Client connected", "client_id", c.id, "user_id", c.userID)
	return nil
}

// JoinConversation подключает соединение к комнате диалога после проверки
// членства. Ошибка уходит только инициатору, состояние соединения не меняется.
func (g *Gateway) JoinConversation(ctx context.Context, c *Client, conversationID uuid.UUID) {
	if err := g.conversations.Authorize(ctx, conversationID, c.userID); err != nil {
		g.sendError(c, EventJoinConversation, err)
		return
	}

	now := time.Now()
	sh := g.shard(conversationID)
	sh.mu.Lock()
	room, ok := sh.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		sh.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.trackRoom(conversationID)

	c.Send(NewEvent(EventConversationJoined, ConversationEventPayload{
		ConversationID: conversationID,
		UserID:         c.userID,
		Timestamp:      now,
	}))
	ev := NewEvent(EventUserJoinedConversation, ConversationEventPayload{
		ConversationID: conversationID,
		UserID:         c.userID,
		Timestamp:      now,
	})
	for member := range room {
		if member != c {
			member.Send(ev)
		}
	}
	sh.mu.Unlock()
}

// LeaveConversation убирает соединение из комнаты. Идемпотентна.
func (g *Gateway) LeaveConversation(ctx context.Context, c *Client, conversationID uuid.UUID) {
	g.removeFromRoom(conversationID, c)

	now := time.Now()
	c.Send(NewEvent(EventConversationLeft, ConversationEventPayload{
		ConversationID: conversationID,
		UserID:         c.userID,
		Timestamp:      now,
	}))
	g.broadcast(conversationID, c, NewEvent(EventUserLeftConversation, ConversationEventPayload{
		ConversationID: conversationID,
		UserID:         c.userID,
		Timestamp:      now,
	}))
}

// SendMessage персистит сообщение и рассылает его всем соединениям комнаты.
// Ошибка персиста закрывает отправку полностью: без записи нет рассылки.
func (g *Gateway) SendMessage(ctx context.Context, c *Client, p SendMessagePayload) {
	if !c.inRoom(p.ConversationID) {
		g.sendError(c, EventSendMessage, apperrors.ErrNotAParticipant)
		return
	}

	message, err := g.messages.Send(ctx, p.ConversationID, c.userID, p.Content, p.Type)
	if err != nil {
		g.sendError(c, EventSendMessage, err)
		return
	}

	g.broadcast(p.ConversationID, nil, NewEvent(EventMessageReceived, message))

	// Отправка сообщения снимает индикатор набора отправителя.
	g.typing.Stop(p.ConversationID, c.userID)
	g.broadcast(p.ConversationID, c, NewEvent(EventTypingStop, TypingPayload{
		ConversationID: p.ConversationID,
		UserID:         c.userID,
	}))
}

// SetTyping обновляет реестр набора и уведомляет остальных в комнате.
// Состояние не персистится.
func (g *Gateway) SetTyping(ctx context.Context, c *Client, conversationID uuid.UUID, isTyping bool) {
	if !c.inRoom(conversationID) {
		g.sendError(c, EventTypingStart, apperrors.ErrNotAParticipant)
		return
	}

	name := EventTypingStop
	if isTyping {
		g.typing.Start(conversationID, c.userID)
		name = EventTypingStart
	} else {
		g.typing.Stop(conversationID, c.userID)
	}

	g.broadcast(conversationID, c, NewEvent(name, TypingPayload{
		ConversationID: conversationID,
		UserID:         c.userID,
	}))
}

// MarkRead продвигает курсор чтения и, если статус чужого сообщения дошёл до
// READ, уведомляет отправителя (если тот подключён).
func (g *Gateway) MarkRead(ctx context.Context, c *Client, messageID uuid.UUID) {
	message, changed, err := g.messages.MarkRead(ctx, messageID, c.userID)
	if err != nil {
		g.sendError(c, EventMarkMessageRead, err)
		return
	}
	if !changed {
		return
	}

	g.mu.RLock()
	sender := g.conns[message.SenderID]
	g.mu.RUnlock()
	if sender != nil {
		sender.Send(NewEvent(EventMessageStatusUpdated, MessageStatusPayload{
			MessageID: message.ID,
			Status:    message.Status,
			ReadBy:    c.userID,
			Timestamp: time.Now(),
		}))
	}
}

// UpdateChatStatus меняет статус чата пользователя и оповещает остальные
// подключённые соединения.
func (g *Gateway) UpdateChatStatus(ctx context.Context, c *Client, status domain.ChatStatus) {
	if err := g.presence.UpdateChatStatus(ctx, c.userID, status); err != nil {
		g.sendError(c, EventUpdateChatStatus, err)
		return
	}

	ev := NewEvent(EventUserStatusChanged, UserStatusChangedPayload{
		UserID:    c.userID,
		Status:    status,
		Timestamp: time.Now(),
	})

	g.mu.RLock()
	others := make([]*Client, 0, len(g.conns))
	for _, other := range g.conns {
		if other != c {
			others = append(others, other)
		}
	}
	g.mu.RUnlock()

	for _, other := range others {
		other.Send(ev)
	}
}

// Heartbeat продлевает активность пользователя, не меняя флаг online.
func (g *Gateway) Heartbeat(ctx context.Context, c *Client) {
	if err := g.presence.Touch(ctx, c.userID); err != nil {
		g.log.Error("Failed to touch presence", "user_id", c.userID, "error", err)
	}
	c.Send(NewEvent(EventPong, PongPayload{Timestamp: time.Now()}))
}

// Disconnect снимает соединение со всех комнат, чистит соответствие
// соединение-пользователь и помечает пользователя offline. Идемпотентен.
func (g *Gateway) Disconnect(c *Client) {
	c.discOnce.Do(func() {
		// Неявные typing_stop там, где пользователь ещё печатал.
		for _, conversationID := range g.typing.StopAllForUser(c.userID) {
			g.broadcast(conversationID, c, NewEvent(EventTypingStop, TypingPayload{
				ConversationID: conversationID,
				UserID:         c.userID,
			}))
		}

		now := time.Now()
		disconnected := NewEvent(EventUserDisconnected, ConnectionPayload{
			UserID:    c.userID,
			Timestamp: now,
		})
		for _, conversationID := range c.joinedRooms() {
			g.removeFromRoom(conversationID, c)
			g.broadcast(conversationID, c, disconnected)
		}

		// Соответствие чистится, только если его не перезаписало более новое
		// соединение того же пользователя.
		g.mu.Lock()
		current := g.conns[c.userID] == c
		if current {
			delete(g.conns, c.userID)
		}
		g.mu.Unlock()

		if current {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := g.presence.SetOffline(ctx, c.userID); err != nil {
				g.log.Error("Failed to mark user offline", "user_id", c.userID, "error", err)
			}
		}

		c.close()
		g.log.Info("Client disconnected", "client_id", c.id, "user_id", c.userID)
	})
}

// IsUserConnected — подключён ли пользователь прямо сейчас.
func (g *Gateway) IsUserConnected(userID uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.conns[userID]
	return ok
}

// EmitToUser доставляет событие конкретному пользователю, если он подключён.
func (g *Gateway) EmitToUser(userID uuid.UUID, ev Event) bool {
	g.mu.RLock()
	c := g.conns[userID]
	g.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.Send(ev)
}

// EmitToConversation рассылает событие всем соединениям комнаты.
func (g *Gateway) EmitToConversation(conversationID uuid.UUID, ev Event) {
	g.broadcast(conversationID, nil, ev)
}

// Shutdown закрывает все соединения и гасит таймеры реестра набора.
func (g *Gateway) Shutdown() {
	g.typing.Shutdown()

	g.mu.Lock()
	clients := make([]*Client, 0, len(g.conns))
	for _, c := range g.conns {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		g.Disconnect(c)
	}
}

// handleEvent разбирает входящий конверт и выполняет операцию. Ошибки разбора
// и выполнения адресуются только инициатору.
func (g *Gateway) handleEvent(c *Client, ev Event) {
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()

	switch ev.Event {
	case EventJoinConversation:
		var p ConversationRef
		if !g.decode(c, ev, &p) {
			return
		}
		g.JoinConversation(ctx, c, p.ConversationID)
	case EventLeaveConversation:
		var p ConversationRef
		if !g.decode(c, ev, &p) {
			return
		}
		g.LeaveConversation(ctx, c, p.ConversationID)
	case EventSendMessage:
		var p SendMessagePayload
		if !g.decode(c, ev, &p) {
			return
		}
		g.SendMessage(ctx, c, p)
	case EventTypingStart:
		var p TypingPayload
		if !g.decode(c, ev, &p) {
			return
		}
		g.SetTyping(ctx, c, p.ConversationID, true)
	case EventTypingStop:
		var p TypingPayload
		if !g.decode(c, ev, &p) {
			return
		}
		g.SetTyping(ctx, c, p.ConversationID, false)
	case EventMarkMessageRead:
		var p MarkReadPayload
		if !g.decode(c, ev, &p) {
			return
		}
		g.MarkRead(ctx, c, p.MessageID)
	case EventUpdateChatStatus:
		var p ChatStatusPayload
		if !g.decode(c, ev, &p) {
			return
		}
		g.UpdateChatStatus(ctx, c, p.Status)
	case EventPing:
		g.Heartbeat(ctx, c)
	default:
		g.sendError(c, ev.Event, apperrors.ErrValidation)
	}
}

func (g *Gateway) decode(c *Client, ev Event, out any) bool {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		g.sendError(c, ev.Event, apperrors.ErrValidation)
		return false
	}
	return true
}

func (g *Gateway) sendError(c *Client, event string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		msg = "invalid request"
	case errors.Is(err, apperrors.ErrNotAParticipant):
		msg = "access denied or conversation not found"
	case errors.Is(err, apperrors.ErrConversationNotFound):
		msg = "access denied or conversation not found"
	case errors.Is(err, apperrors.ErrMessageNotFound):
		msg = "message not found"
	case errors.Is(err, apperrors.ErrForbidden):
		msg = "forbidden"
	default:
		g.log.Error("Gateway operation failed", "event", event, "user_id", c.userID, "error", err)
	}
	c.Send(NewEvent(EventError, ErrorPayload{Event: event, Message: msg}))
}

func (g *Gateway) shard(conversationID uuid.UUID) *roomShard {
	h := fnv.New32a()
	h.Write(conversationID[:])
	return g.shards[h.Sum32()%roomShards]
}

// broadcast рассылает событие комнате под локом её шарда: порядок доставки
// внутри комнаты совпадает с порядком принятия событий шлюзом.
func (g *Gateway) broadcast(conversationID uuid.UUID, except *Client, ev Event) {
	sh := g.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for member := range sh.rooms[conversationID] {
		if member != except {
			member.Send(ev)
		}
	}
}

func (g *Gateway) removeFromRoom(conversationID uuid.UUID, c *Client) {
	c.untrackRoom(conversationID)

	sh := g.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	room, ok := sh.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(sh.rooms, conversationID)
	}
}
