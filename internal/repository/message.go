package repository

import (
	"context"
	"errors"

	"fast_focus/internal/domain"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
	List(ctx context.Context, conversationID uuid.UUID, opts domain.ListMessagesOptions) (*domain.MessagePage, error)
	UpdateStatus(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus) (*domain.Message, error)
	UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*domain.Message, error)
	Delete(ctx context.Context, messageID uuid.UUID) error
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, m.content, m.type, m.status,
	m.created_at, m.updated_at, m.edited_at,
	u.id, u.name, u.email, u.is_online
`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{Sender: &domain.MessageSender{}}
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.Status,
		&m.CreatedAt, &m.UpdatedAt, &m.EditedAt,
		&m.Sender.ID, &m.Sender.Name, &m.Sender.Email, &m.Sender.IsOnline,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	// Вставка сообщения и обновление last_message_at диалога — одна транзакция.
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		message.ID, message.ConversationID, message.SenderID,
		message.Content, message.Type, message.Status,
	).Scan(&message.CreatedAt, &message.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to create message", "error", err)
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2, updated_at = NOW()
		WHERE id = $1
	`, message.ConversationID, message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to bump conversation last_message_at", "error", err)
		return err
	}

	return tx.Commit(ctx)
}

func (r *messageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`

	m, err := scanMessage(r.db.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "message_id", messageID)
		return nil, err
	}

	return m, nil
}

func (r *messageRepository) List(ctx context.Context, conversationID uuid.UUID, opts domain.ListMessagesOptions) (*domain.MessagePage, error) {
	opts.Normalize()

	// Before == nil покрывается условием в SQL: NULL отключает фильтр.
	before := opts.Before

	// Страница берётся с конца истории (новые первыми), limit+1 строк для
	// has_more, затем разворачивается в хронологический порядок.
	listQuery := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		  AND ($2::timestamptz IS NULL OR m.created_at < $2)
		ORDER BY m.created_at DESC
		OFFSET $3
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, listQuery, conversationID, before, opts.Offset, opts.Limit+1)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(messages) > opts.Limit
	if hasMore {
		messages = messages[:opts.Limit]
	}
	reverseMessages(messages)

	page := &domain.MessagePage{Messages: messages, HasMore: hasMore}
	if page.Messages == nil {
		page.Messages = []*domain.Message{}
	}

	countQuery := `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_id = $1
		  AND ($2::timestamptz IS NULL OR m.created_at < $2)
	`
	if err := r.db.QueryRow(ctx, countQuery, conversationID, before).Scan(&page.Total); err != nil {
		r.log.Error("Failed to count messages", "error", err)
		return nil, err
	}

	return page, nil
}

// UpdateStatus продвигает статус только вперёд (SENT -> DELIVERED -> READ).
// Запрос с равным или более ранним статусом ничего не меняет; в любом случае
// возвращается актуальная строка.
func (r *messageRepository) UpdateStatus(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus) (*domain.Message, error) {
	query := `
		UPDATE messages
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		  AND array_position(ARRAY['SENT','DELIVERED','READ'], status)
		    < array_position(ARRAY['SENT','DELIVERED','READ'], $2::text)
	`

	if _, err := r.db.Exec(ctx, query, messageID, status); err != nil {
		r.log.Error("Failed to update message status", "error", err, "message_id", messageID)
		return nil, err
	}

	return r.GetByID(ctx, messageID)
}

func (r *messageRepository) UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*domain.Message, error) {
	query := `
		UPDATE messages
		SET content = $2, edited_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, messageID, content)
	if err != nil {
		r.log.Error("Failed to update message content", "error", err, "message_id", messageID)
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.ErrMessageNotFound
	}

	return r.GetByID(ctx, messageID)
}

func (r *messageRepository) Delete(ctx context.Context, messageID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", messageID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMessageNotFound
	}
	return nil
}

func reverseMessages(messages []*domain.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
