package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fast_focus/internal/domain"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Фейки сервисного слоя: членство и сообщения в памяти, без БД.

type fakePresence struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*domain.UserPresence
	online map[uuid.UUID]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		users:  make(map[uuid.UUID]*domain.UserPresence),
		online: make(map[uuid.UUID]bool),
	}
}

func (f *fakePresence) add() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.users[id] = &domain.UserPresence{ID: id, ChatStatus: domain.ChatStatusAvailable}
	return id
}

func (f *fakePresence) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	snapshot := *u
	return &snapshot, nil
}

func (f *fakePresence) SetOnline(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
	return nil
}

func (f *fakePresence) SetOffline(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = false
	return nil
}

func (f *fakePresence) isOnline(userID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakePresence) Touch(ctx context.Context, userID uuid.UUID) error { return nil }

func (f *fakePresence) UpdateChatStatus(ctx context.Context, userID uuid.UUID, status domain.ChatStatus) error {
	if !status.Valid() {
		return apperrors.ErrValidation
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.ChatStatus = status
	}
	return nil
}

func (f *fakePresence) OnlineUsers(ctx context.Context) ([]*domain.UserPresence, error) {
	return nil, nil
}

func (f *fakePresence) Search(ctx context.Context, query string, excludeUserID uuid.UUID, limit, offset int, onlineOnly bool) (*domain.UserPage, error) {
	return &domain.UserPage{}, nil
}

func (f *fakePresence) ReapStale(ctx context.Context, threshold time.Duration) (int64, error) {
	return 0, nil
}

type fakeConversations struct {
	mu      sync.Mutex
	members map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{members: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (f *fakeConversations) addConversation(participants ...uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	members := make(map[uuid.UUID]bool, len(participants))
	for _, p := range participants {
		members[p] = true
	}
	f.members[id] = members
	return id
}

func (f *fakeConversations) Authorize(ctx context.Context, conversationID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[conversationID]
	if !ok {
		return apperrors.ErrConversationNotFound
	}
	if !members[userID] {
		return apperrors.ErrNotAParticipant
	}
	return nil
}

func (f *fakeConversations) Create(ctx context.Context, creatorID uuid.UUID, input domain.CreateConversationInput) (*domain.ConversationSummary, error) {
	return nil, apperrors.ErrInternalServer
}

func (f *fakeConversations) Get(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.ConversationSummary, error) {
	return nil, apperrors.ErrInternalServer
}

func (f *fakeConversations) List(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.ConversationPage, error) {
	return nil, apperrors.ErrInternalServer
}

func (f *fakeConversations) MarkAllRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	return nil
}

type fakeMessages struct {
	mu       sync.Mutex
	convs    *fakeConversations
	messages map[uuid.UUID]*domain.Message
	failSend atomic.Bool
}

func newFakeMessages(convs *fakeConversations) *fakeMessages {
	return &fakeMessages{convs: convs, messages: make(map[uuid.UUID]*domain.Message)}
}

func (f *fakeMessages) Send(ctx context.Context, conversationID, senderID uuid.UUID, content string, messageType domain.MessageType) (*domain.Message, error) {
	if f.failSend.Load() {
		return nil, apperrors.ErrInternalServer
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ErrValidation
	}
	if err := f.convs.Authorize(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           domain.MessageTypeText,
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now(),
	}
	f.messages[m.ID] = m
	return m, nil
}

func (f *fakeMessages) List(ctx context.Context, conversationID, requesterID uuid.UUID, opts domain.ListMessagesOptions) (*domain.MessagePage, error) {
	return &domain.MessagePage{}, nil
}

func (f *fakeMessages) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, false, apperrors.ErrMessageNotFound
	}
	if m.SenderID == readerID {
		return m, false, nil
	}
	changed := m.Status != domain.MessageStatusRead
	m.Status = domain.MessageStatusRead
	snapshot := *m
	return &snapshot, changed, nil
}

func (f *fakeMessages) Edit(ctx context.Context, messageID, editorID uuid.UUID, content string) (*domain.Message, error) {
	return nil, apperrors.ErrInternalServer
}

func (f *fakeMessages) Delete(ctx context.Context, messageID, requesterID uuid.UUID) error {
	return nil
}

// testServer поднимает шлюз за httptest-сервером; userID передаётся
// query-параметром вместо JWT.
func testServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go gw.HandleConnection(conn, userID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// awaitEvent читает кадры, пока не встретит событие с нужным именем.
// Нерелевантные события (presence-шум соседних подключений) пропускаются.
func awaitEvent(t *testing.T, conn *websocket.Conn, name string) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %q: %v", name, err)
		}
		if ev.Event == name {
			return ev
		}
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, name string, payload any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteJSON(NewEvent(name, payload)); err != nil {
		t.Fatalf("sending %q: %v", name, err)
	}
}

func TestGatewayMessagingFlow(t *testing.T) {
	presence := newFakePresence()
	convs := newFakeConversations()
	messages := newFakeMessages(convs)

	userA := presence.add()
	userB := presence.add()
	conv := convs.addConversation(userA, userB)

	gw := New(presence, convs, messages, logger.New("error"))
	defer gw.Shutdown()
	srv := testServer(t, gw)

	connA := dial(t, srv, userA)
	awaitEvent(t, connA, EventUserConnected)
	connB := dial(t, srv, userB)
	awaitEvent(t, connB, EventUserConnected)

	if !gw.IsUserConnected(userA) || !gw.IsUserConnected(userB) {
		t.Fatal("users not registered in connection map")
	}
	if !presence.isOnline(userA) {
		t.Error("userA not marked online")
	}

	// Обе стороны входят в комнату.
	sendEvent(t, connA, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, connA, EventConversationJoined)
	sendEvent(t, connB, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, connB, EventConversationJoined)
	awaitEvent(t, connA, EventUserJoinedConversation)

	// Сообщение получают и отправитель, и собеседник.
	sendEvent(t, connA, EventSendMessage, SendMessagePayload{ConversationID: conv, Content: "hi"})
	gotA := awaitEvent(t, connA, EventMessageReceived)
	gotB := awaitEvent(t, connB, EventMessageReceived)

	var msgA, msgB domain.Message
	if err := json.Unmarshal(gotA.Data, &msgA); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if err := json.Unmarshal(gotB.Data, &msgB); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msgA.ID != msgB.ID {
		t.Error("participants received different messages")
	}
	if msgB.Content != "hi" || msgB.Status != domain.MessageStatusSent {
		t.Errorf("message = %+v, want content hi status SENT", msgB)
	}

	// Квитанция о прочтении доходит до отправителя.
	sendEvent(t, connB, EventMarkMessageRead, MarkReadPayload{MessageID: msgB.ID})
	statusEv := awaitEvent(t, connA, EventMessageStatusUpdated)
	var status MessageStatusPayload
	if err := json.Unmarshal(statusEv.Data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.MessageID != msgB.ID || status.Status != domain.MessageStatusRead || status.ReadBy != userB {
		t.Errorf("status payload = %+v", status)
	}
}

func TestGatewayTypingBroadcast(t *testing.T) {
	presence := newFakePresence()
	convs := newFakeConversations()
	messages := newFakeMessages(convs)

	userA := presence.add()
	userB := presence.add()
	conv := convs.addConversation(userA, userB)

	gw := New(presence, convs, messages, logger.New("error"))
	defer gw.Shutdown()
	srv := testServer(t, gw)

	connA := dial(t, srv, userA)
	awaitEvent(t, connA, EventUserConnected)
	connB := dial(t, srv, userB)
	awaitEvent(t, connB, EventUserConnected)

	sendEvent(t, connA, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, connA, EventConversationJoined)
	sendEvent(t, connB, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, connB, EventConversationJoined)

	sendEvent(t, connB, EventTypingStart, TypingPayload{ConversationID: conv})
	ev := awaitEvent(t, connA, EventTypingStart)
	var typing TypingPayload
	if err := json.Unmarshal(ev.Data, &typing); err != nil {
		t.Fatalf("unmarshal typing: %v", err)
	}
	if typing.UserID != userB || typing.ConversationID != conv {
		t.Errorf("typing payload = %+v", typing)
	}

	sendEvent(t, connB, EventTypingStop, TypingPayload{ConversationID: conv})
	awaitEvent(t, connA, EventTypingStop)
}

func TestGatewayRejectsUnknownUser(t *testing.T) {
	presence := newFakePresence()
	convs := newFakeConversations()
	messages := newFakeMessages(convs)

	gw := New(presence, convs, messages, logger.New("error"))
	defer gw.Shutdown()
	srv := testServer(t, gw)

	conn := dial(t, srv, uuid.New())
	ev := awaitEvent(t, conn, EventError)

	var payload ErrorPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Event != "authenticate" {
		t.Errorf("error scoped to %q, want authenticate", payload.Event)
	}

	// Дальше соединение закрыто сервером.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next Event
	if err := conn.ReadJSON(&next); err == nil {
		t.Errorf("expected closed connection, got event %q", next.Event)
	}
}

func TestGatewayScopedErrors(t *testing.T) {
	presence := newFakePresence()
	convs := newFakeConversations()
	messages := newFakeMessages(convs)

	userA := presence.add()
	userB := presence.add()
	conv := convs.addConversation(userA, userB)

	gw := New(presence, convs, messages, logger.New("error"))
	defer gw.Shutdown()
	srv := testServer(t, gw)

	connA := dial(t, srv, userA)
	awaitEvent(t, connA, EventUserConnected)
	connB := dial(t, srv, userB)
	awaitEvent(t, connB, EventUserConnected)

	t.Run("join without membership", func(t *testing.T) {
		outsider := presence.add()
		connC := dial(t, srv, outsider)
		awaitEvent(t, connC, EventUserConnected)

		sendEvent(t, connC, EventJoinConversation, ConversationRef{ConversationID: conv})
		ev := awaitEvent(t, connC, EventError)
		var payload ErrorPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Event != EventJoinConversation {
			t.Errorf("error scoped to %q, want %q", payload.Event, EventJoinConversation)
		}
	})

	t.Run("send without joining the room", func(t *testing.T) {
		sendEvent(t, connA, EventSendMessage, SendMessagePayload{ConversationID: conv, Content: "hi"})
		ev := awaitEvent(t, connA, EventError)
		var payload ErrorPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Event != EventSendMessage {
			t.Errorf("error scoped to %q, want %q", payload.Event, EventSendMessage)
		}
	})

	t.Run("failed persist does not fan out", func(t *testing.T) {
		sendEvent(t, connA, EventJoinConversation, ConversationRef{ConversationID: conv})
		awaitEvent(t, connA, EventConversationJoined)
		sendEvent(t, connB, EventJoinConversation, ConversationRef{ConversationID: conv})
		awaitEvent(t, connB, EventConversationJoined)

		messages.failSend.Store(true)
		defer messages.failSend.Store(false)

		sendEvent(t, connA, EventSendMessage, SendMessagePayload{ConversationID: conv, Content: "lost"})
		awaitEvent(t, connA, EventError)

		// Собеседник не должен получить сообщение: проверяем тишину.
		connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		var ev Event
		for {
			if err := connB.ReadJSON(&ev); err != nil {
				break
			}
			if ev.Event == EventMessageReceived {
				t.Fatal("message fanned out despite persistence failure")
			}
		}
	})
}

func TestGatewayReconnect(t *testing.T) {
	presence := newFakePresence()
	convs := newFakeConversations()
	messages := newFakeMessages(convs)

	userA := presence.add()
	userB := presence.add()
	conv := convs.addConversation(userA, userB)

	gw := New(presence, convs, messages, logger.New("error"))
	defer gw.Shutdown()
	srv := testServer(t, gw)

	stale := dial(t, srv, userA)
	awaitEvent(t, stale, EventUserConnected)

	// Повторное подключение того же пользователя вытесняет старый сокет
	// из карты соединений.
	fresh := dial(t, srv, userA)
	awaitEvent(t, fresh, EventUserConnected)

	// Обрыв старого сокета не должен трогать ни новое соединение,
	// ни presence.
	stale.Close()
	time.Sleep(200 * time.Millisecond)

	if !gw.IsUserConnected(userA) {
		t.Fatal("user dropped from connection map by stale socket disconnect")
	}
	if !presence.isOnline(userA) {
		t.Error("user flipped offline by stale socket disconnect")
	}

	// Новое соединение остаётся рабочим: шлюз обслуживает его события
	// и адресная доставка идёт именно в него.
	sendEvent(t, fresh, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, fresh, EventConversationJoined)

	if !gw.EmitToUser(userA, NewEvent(EventPong, nil)) {
		t.Fatal("EmitToUser found no connection for the user")
	}
	awaitEvent(t, fresh, EventPong)
}

func TestGatewayDisconnectCleansUp(t *testing.T) {
	presence := newFakePresence()
	convs := newFakeConversations()
	messages := newFakeMessages(convs)

	userA := presence.add()
	userB := presence.add()
	conv := convs.addConversation(userA, userB)

	gw := New(presence, convs, messages, logger.New("error"))
	defer gw.Shutdown()
	srv := testServer(t, gw)

	connA := dial(t, srv, userA)
	awaitEvent(t, connA, EventUserConnected)
	connB := dial(t, srv, userB)
	awaitEvent(t, connB, EventUserConnected)

	sendEvent(t, connA, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, connA, EventConversationJoined)
	sendEvent(t, connB, EventJoinConversation, ConversationRef{ConversationID: conv})
	awaitEvent(t, connB, EventConversationJoined)

	connB.Close()

	ev := awaitEvent(t, connA, EventUserDisconnected)
	var payload ConnectionPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.UserID != userB {
		t.Errorf("disconnected user = %s, want %s", payload.UserID, userB)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gw.IsUserConnected(userB) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if gw.IsUserConnected(userB) {
		t.Error("userB still in connection map after disconnect")
	}
	if presence.isOnline(userB) {
		t.Error("userB still marked online after disconnect")
	}
}
