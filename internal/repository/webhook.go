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

// WebhookDeliveryRepository ведёт журнал доставок. Записи создаются и
// обновляются, но никогда не удаляются.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *domain.WebhookDelivery) error
	GetByID(ctx context.Context, deliveryID uuid.UUID) (*domain.WebhookDelivery, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WebhookDelivery, int, error)
	RecordAttempt(ctx context.Context, deliveryID uuid.UUID, status domain.DeliveryStatus, attempts int, lastError *string) error
	Reset(ctx context.Context, deliveryID uuid.UUID) error
}

type webhookDeliveryRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewWebhookDeliveryRepository(db *pgxpool.Pool, log logger.Logger) WebhookDeliveryRepository {
	return &webhookDeliveryRepository{db: db, log: log}
}

const deliveryColumns = `id, user_id, session_id, event, payload, status, attempts, last_tried_at, last_error, created_at`

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.UserID, &d.SessionID, &d.Event, &d.Payload,
		&d.Status, &d.Attempts, &d.LastTriedAt, &d.LastError, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *webhookDeliveryRepository) Create(ctx context.Context, delivery *domain.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, user_id, session_id, event, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		delivery.ID, delivery.UserID, delivery.SessionID, delivery.Event,
		delivery.Payload, delivery.Status, delivery.Attempts,
	).Scan(&delivery.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create webhook delivery", "error", err)
		return err
	}

	return nil
}

func (r *webhookDeliveryRepository) GetByID(ctx context.Context, deliveryID uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	d, err := scanDelivery(r.db.QueryRow(ctx, query, deliveryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrDeliveryNotFound
		}
		r.log.Error("Failed to get webhook delivery", "error", err, "delivery_id", deliveryID)
		return nil, err
	}

	return d, nil
}

func (r *webhookDeliveryRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WebhookDelivery, int, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list webhook deliveries", "error", err)
		return nil, 0, err
	}
	defer rows.Close()

	var deliveries []*domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return deliveries, total, nil
}

func (r *webhookDeliveryRepository) RecordAttempt(ctx context.Context, deliveryID uuid.UUID, status domain.DeliveryStatus, attempts int, lastError *string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, attempts = $3, last_error = $4, last_tried_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, deliveryID, status, attempts, lastError)
	if err != nil {
		r.log.Error("Failed to record delivery attempt", "error", err, "delivery_id", deliveryID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrDeliveryNotFound
	}
	return nil
}

// Reset возвращает доставку в PENDING для административного повтора.
func (r *webhookDeliveryRepository) Reset(ctx context.Context, deliveryID uuid.UUID) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'PENDING', attempts = 0, last_error = NULL
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, deliveryID)
	if err != nil {
		r.log.Error("Failed to reset webhook delivery", "error", err, "delivery_id", deliveryID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrDeliveryNotFound
	}
	return nil
}
