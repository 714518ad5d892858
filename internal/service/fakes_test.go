package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fast_focus/internal/domain"
	apperrors "fast_focus/pkg/errors"

	"github.com/google/uuid"
)

// In-memory репозитории для юнит-тестов сервисного слоя. Повторяют
// контрактные особенности SQL-реализаций: монотонный курсор чтения и
// монотонные переходы статуса сообщения.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.UserPresence
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*domain.UserPresence)}
}

func (r *fakeUserRepo) add(name string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	n := name
	r.users[id] = &domain.UserPresence{
		ID:         id,
		Name:       &n,
		Email:      strings.ToLower(name) + "@example.com",
		ChatStatus: domain.ChatStatusAvailable,
	}
	return id
}

func (r *fakeUserRepo) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	snapshot := *u
	return &snapshot, nil
}

func (r *fakeUserRepo) SetOnline(ctx context.Context, userID uuid.UUID) error {
	return r.mutate(userID, func(u *domain.UserPresence) {
		now := time.Now()
		u.IsOnline = true
		u.LastSeenAt = &now
	})
}

func (r *fakeUserRepo) SetOffline(ctx context.Context, userID uuid.UUID) error {
	return r.mutate(userID, func(u *domain.UserPresence) {
		now := time.Now()
		u.IsOnline = false
		u.LastSeenAt = &now
	})
}

func (r *fakeUserRepo) Touch(ctx context.Context, userID uuid.UUID) error {
	return r.mutate(userID, func(u *domain.UserPresence) {
		now := time.Now()
		u.LastSeenAt = &now
	})
}

func (r *fakeUserRepo) UpdateChatStatus(ctx context.Context, userID uuid.UUID, status domain.ChatStatus) error {
	return r.mutate(userID, func(u *domain.UserPresence) {
		u.ChatStatus = status
	})
}

func (r *fakeUserRepo) OnlineUsers(ctx context.Context) ([]*domain.UserPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.UserPresence
	for _, u := range r.users {
		if u.IsOnline {
			snapshot := *u
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) Search(ctx context.Context, query string, excludeUserID uuid.UUID, limit, offset int, onlineOnly bool) (*domain.UserPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := &domain.UserPage{}
	for _, u := range r.users {
		if u.ID == excludeUserID {
			continue
		}
		if onlineOnly && !u.IsOnline {
			continue
		}
		name := ""
		if u.Name != nil {
			name = *u.Name
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(name), strings.ToLower(query)) &&
			!strings.Contains(strings.ToLower(u.Email), strings.ToLower(query)) {
			continue
		}
		snapshot := *u
		page.Users = append(page.Users, &snapshot)
	}
	page.Total = len(page.Users)
	return page, nil
}

func (r *fakeUserRepo) ReapStale(ctx context.Context, threshold time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var reaped int64
	for _, u := range r.users {
		if u.IsOnline && u.LastSeenAt != nil && u.LastSeenAt.Before(cutoff) {
			u.IsOnline = false
			reaped++
		}
	}
	return reaped, nil
}

func (r *fakeUserRepo) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, id := range ids {
		if _, ok := r.users[id]; ok {
			count++
		}
	}
	return count, nil
}

func (r *fakeUserRepo) mutate(userID uuid.UUID, fn func(*domain.UserPresence)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	fn(u)
	return nil
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	participants  map[uuid.UUID]map[uuid.UUID]*domain.ConversationParticipant
	messages      *fakeMessageRepo // для unread/preview, может быть nil
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		participants:  make(map[uuid.UUID]map[uuid.UUID]*domain.ConversationParticipant),
	}
}

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	stored := *conversation
	r.conversations[conversation.ID] = &stored

	members := make(map[uuid.UUID]*domain.ConversationParticipant, len(participantIDs))
	for _, id := range participantIDs {
		members[id] = &domain.ConversationParticipant{
			ConversationID: conversation.ID,
			UserID:         id,
			JoinedAt:       now,
		}
	}
	r.participants[conversation.ID] = members
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	snapshot := *c
	return &snapshot, nil
}

func (r *fakeConversationRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Conversation
	for id, members := range r.participants {
		if _, ok := members[userID]; ok {
			snapshot := *r.conversations[id]
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeConversationRepo) FindDirectBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conversations {
		if c.Type != domain.ConversationTypeDirect {
			continue
		}
		members := r.participants[id]
		if _, okA := members[userA]; !okA {
			continue
		}
		if _, okB := members[userB]; okB {
			snapshot := *c
			return &snapshot, nil
		}
	}
	return nil, apperrors.ErrConversationNotFound
}

func (r *fakeConversationRepo) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[conversationID][userID]
	if !ok {
		return nil, apperrors.ErrNotAParticipant
	}
	snapshot := *p
	return &snapshot, nil
}

func (r *fakeConversationRepo) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.ConversationParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ConversationParticipant
	for _, p := range r.participants[conversationID] {
		snapshot := *p
		out = append(out, &snapshot)
	}
	return out, nil
}

func (r *fakeConversationRepo) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[conversationID][userID]
	return ok, nil
}

func (r *fakeConversationRepo) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	p, ok := r.participants[conversationID][userID]
	r.mu.Unlock()
	if !ok || r.messages == nil {
		return 0, nil
	}

	cursor := p.JoinedAt
	if p.LastReadAt != nil && p.LastReadAt.After(cursor) {
		cursor = *p.LastReadAt
	}

	count := 0
	r.messages.mu.Lock()
	defer r.messages.mu.Unlock()
	for _, m := range r.messages.messages {
		if m.ConversationID == conversationID && m.SenderID != userID && m.CreatedAt.After(cursor) {
			count++
		}
	}
	return count, nil
}

func (r *fakeConversationRepo) LastMessagePreview(ctx context.Context, conversationID uuid.UUID) (*domain.MessagePreview, error) {
	if r.messages == nil {
		return nil, nil
	}
	r.messages.mu.Lock()
	defer r.messages.mu.Unlock()
	var last *domain.Message
	for _, m := range r.messages.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	return &domain.MessagePreview{
		ID:        last.ID,
		Content:   last.Content,
		SenderID:  last.SenderID,
		CreatedAt: last.CreatedAt,
	}, nil
}

func (r *fakeConversationRepo) AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[conversationID][userID]
	if !ok {
		return apperrors.ErrNotAParticipant
	}
	// CAS: курсор двигается только вперёд.
	if p.LastReadAt == nil || p.LastReadAt.Before(readAt) {
		at := readAt
		p.LastReadAt = &at
	}
	return nil
}

func (r *fakeConversationRepo) TouchReadCursor(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.AdvanceReadCursor(ctx, conversationID, userID, time.Now())
}

func (r *fakeConversationRepo) readCursor(conversationID, userID uuid.UUID) *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[conversationID][userID]
	if !ok {
		return nil
	}
	return p.LastReadAt
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*domain.Message
	seq      int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[uuid.UUID]*domain.Message)}
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Монотонные created_at, чтобы порядок в тестах был детерминированным.
	r.seq++
	message.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Millisecond)
	message.UpdatedAt = message.CreatedAt
	stored := *message
	r.messages[message.ID] = &stored
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	snapshot := *m
	return &snapshot, nil
}

func (r *fakeMessageRepo) List(ctx context.Context, conversationID uuid.UUID, opts domain.ListMessagesOptions) (*domain.MessagePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opts.Normalize()

	var all []*domain.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if opts.Before != nil && !m.CreatedAt.Before(*opts.Before) {
			continue
		}
		snapshot := *m
		all = append(all, &snapshot)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	total := len(all)
	hasMore := false
	if len(all) > opts.Limit {
		all = all[len(all)-opts.Limit:]
		hasMore = true
	}
	return &domain.MessagePage{Messages: all, Total: total, HasMore: hasMore}, nil
}

func (r *fakeMessageRepo) UpdateStatus(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	// Переход только вперёд, откат — no-op.
	if status.Rank() > m.Status.Rank() {
		m.Status = status
		m.UpdatedAt = time.Now()
	}
	snapshot := *m
	return &snapshot, nil
}

func (r *fakeMessageRepo) UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	now := time.Now()
	m.Content = content
	m.EditedAt = &now
	m.UpdatedAt = now
	snapshot := *m
	return &snapshot, nil
}

func (r *fakeMessageRepo) Delete(ctx context.Context, messageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[messageID]; !ok {
		return apperrors.ErrMessageNotFound
	}
	delete(r.messages, messageID)
	return nil
}
