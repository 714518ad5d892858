package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTypingTTL — сколько живёт индикатор набора без подтверждения.
const DefaultTypingTTL = 10 * time.Second

// TypingRegistry — эфемерное состояние "кто печатает в каком диалоге".
// Живёт только в памяти процесса рядом с Gateway; при горизонтальном
// масштабировании требует co-location с инстансом шлюза.
type TypingRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[uuid.UUID]map[uuid.UUID]*time.Timer
	onExpire func(conversationID, userID uuid.UUID)
}

func NewTypingRegistry(ttl time.Duration) *TypingRegistry {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingRegistry{
		ttl:     ttl,
		entries: make(map[uuid.UUID]map[uuid.UUID]*time.Timer),
	}
}

// OnExpire регистрирует колбэк, вызываемый при истечении таймера записи
// (неявный typing_stop). Вызывается вне мьютекса реестра.
func (t *TypingRegistry) OnExpire(fn func(conversationID, userID uuid.UUID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// Start добавляет пользователя в активный набор и перевзводит таймер
// истечения. Повторный вызов до истечения продлевает запись, а не дублирует.
func (t *TypingRegistry) Start(conversationID, userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.entries[conversationID]
	if !ok {
		users = make(map[uuid.UUID]*time.Timer)
		t.entries[conversationID] = users
	}

	if timer, ok := users[userID]; ok {
		timer.Stop()
	}

	users[userID] = time.AfterFunc(t.ttl, func() {
		t.expire(conversationID, userID)
	})
}

// Stop убирает запись и гасит её таймер. Идемпотентен: возвращает, была ли
// запись активна.
func (t *TypingRegistry) Stop(conversationID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(conversationID, userID)
}

// Active возвращает пользователей, печатающих сейчас в диалоге.
func (t *TypingRegistry) Active(conversationID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.entries[conversationID]
	out := make([]uuid.UUID, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}

// StopAllForUser гасит записи пользователя во всех диалогах (отключение
// клиента). Возвращает диалоги, где запись была активна.
func (t *TypingRegistry) StopAllForUser(userID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var conversations []uuid.UUID
	for conversationID, users := range t.entries {
		if _, ok := users[userID]; ok {
			t.removeLocked(conversationID, userID)
			conversations = append(conversations, conversationID)
		}
	}
	return conversations
}

// Shutdown гасит все таймеры.
func (t *TypingRegistry) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, users := range t.entries {
		for _, timer := range users {
			timer.Stop()
		}
	}
	t.entries = make(map[uuid.UUID]map[uuid.UUID]*time.Timer)
}

func (t *TypingRegistry) expire(conversationID, userID uuid.UUID) {
	t.mu.Lock()
	removed := t.removeLocked(conversationID, userID)
	fn := t.onExpire
	t.mu.Unlock()

	if removed && fn != nil {
		fn(conversationID, userID)
	}
}

func (t *TypingRegistry) removeLocked(conversationID, userID uuid.UUID) bool {
	users, ok := t.entries[conversationID]
	if !ok {
		return false
	}
	timer, ok := users[userID]
	if !ok {
		return false
	}

	timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.entries, conversationID)
	}
	return true
}
