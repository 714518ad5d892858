package repository

import (
	"context"
	"errors"
	"time"

	"fast_focus/internal/domain"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error)
	FindDirectBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.ConversationParticipant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	LastMessagePreview(ctx context.Context, conversationID uuid.UUID) (*domain.MessagePreview, error)
	AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) error
	TouchReadCursor(ctx context.Context, conversationID, userID uuid.UUID) error
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error {
	// Диалог и участники создаются в одной транзакции.
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO conversations (id, type, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		conversation.ID, conversation.Type, conversation.Name, time.Now(),
	).Scan(&conversation.CreatedAt, &conversation.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to create conversation", "error", err)
		return err
	}

	for _, userID := range participantIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES ($1, $2, $3)
		`, conversation.ID, userID, conversation.CreatedAt)
		if err != nil {
			r.log.Error("Failed to add participant", "error", err, "user_id", userID)
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *conversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, type, name, last_message_at, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	c := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&c.ID, &c.Type, &c.Name, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", conversationID)
		return nil, err
	}

	return c, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, int, error) {
	query := `
		SELECT c.id, c.type, c.name, c.last_message_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err)
		return nil, 0, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation_participants WHERE user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		r.log.Error("Failed to count conversations", "error", err)
		return nil, 0, err
	}

	return conversations, total, nil
}

// FindDirectBetween ищет DIRECT-диалог между неупорядоченной парой пользователей.
func (r *conversationRepository) FindDirectBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT c.id, c.type, c.name, c.last_message_at, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.type = 'DIRECT'
		  AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $1)
		  AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $2)
		LIMIT 1
	`

	c := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, userA, userB).Scan(
		&c.ID, &c.Type, &c.Name, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to find direct conversation", "error", err)
		return nil, err
	}

	return c, nil
}

func (r *conversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationParticipant, error) {
	query := `
		SELECT conversation_id, user_id, joined_at, last_read_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`

	p := &domain.ConversationParticipant{}
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(
		&p.ConversationID, &p.UserID, &p.JoinedAt, &p.LastReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotAParticipant
		}
		r.log.Error("Failed to get participant", "error", err)
		return nil, err
	}

	return p, nil
}

func (r *conversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.ConversationParticipant, error) {
	query := `
		SELECT cp.conversation_id, cp.user_id, cp.joined_at, cp.last_read_at,
		       u.id, u.name, u.email, u.is_online, u.last_seen_at, u.chat_status
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY cp.joined_at
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		r.log.Error("Failed to get participants", "error", err)
		return nil, err
	}
	defer rows.Close()

	var participants []*domain.ConversationParticipant
	for rows.Next() {
		p := &domain.ConversationParticipant{User: &domain.UserPresence{}}
		err := rows.Scan(
			&p.ConversationID, &p.UserID, &p.JoinedAt, &p.LastReadAt,
			&p.User.ID, &p.User.Name, &p.User.Email, &p.User.IsOnline, &p.User.LastSeenAt, &p.User.ChatStatus,
		)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		r.log.Error("Failed to check participant", "error", err)
		return false, err
	}
	return exists, nil
}

// UnreadCount — число чужих сообщений новее max(last_read_at, joined_at).
func (r *conversationRepository) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_participants cp
		  ON cp.conversation_id = m.conversation_id AND cp.user_id = $2
		WHERE m.conversation_id = $1
		  AND m.sender_id <> $2
		  AND m.created_at > GREATEST(COALESCE(cp.last_read_at, cp.joined_at), cp.joined_at)
	`

	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&count); err != nil {
		r.log.Error("Failed to count unread messages", "error", err)
		return 0, err
	}
	return count, nil
}

func (r *conversationRepository) LastMessagePreview(ctx context.Context, conversationID uuid.UUID) (*domain.MessagePreview, error) {
	query := `
		SELECT m.id, m.content, m.sender_id, u.name, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT 1
	`

	p := &domain.MessagePreview{}
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&p.ID, &p.Content, &p.SenderID, &p.SenderName, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to get last message preview", "error", err)
		return nil, err
	}

	return p, nil
}

// AdvanceReadCursor двигает курсор только вперёд: сравнение в WHERE исключает
// потерю обновлений при конкурирующих read-receipt.
func (r *conversationRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) error {
	query := `
		UPDATE conversation_participants
		SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
		  AND (last_read_at IS NULL OR last_read_at < $3)
	`

	if _, err := r.db.Exec(ctx, query, conversationID, userID, readAt); err != nil {
		r.log.Error("Failed to advance read cursor", "error", err)
		return err
	}
	return nil
}

func (r *conversationRepository) TouchReadCursor(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.AdvanceReadCursor(ctx, conversationID, userID, time.Now())
}
