package repository

import (
	"context"
	"errors"

	"fast_focus/internal/domain"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsRepository отдаёт конфигурацию вебхука пользователя. Сами настройки
// (длительности помидора, звук и т.д.) ведёт внешняя часть приложения — здесь
// только чтение webhook_url / webhook_secret перед каждой отправкой.
type SettingsRepository interface {
	GetWebhookSettings(ctx context.Context, userID uuid.UUID) (*domain.WebhookSettings, error)
}

type settingsRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewSettingsRepository(db *pgxpool.Pool, log logger.Logger) SettingsRepository {
	return &settingsRepository{db: db, log: log}
}

// GetWebhookSettings возвращает (nil, nil), если URL не настроен: для
// диспетчера это штатный no-op, а не ошибка.
func (r *settingsRepository) GetWebhookSettings(ctx context.Context, userID uuid.UUID) (*domain.WebhookSettings, error) {
	query := `SELECT webhook_url, webhook_secret FROM settings WHERE user_id = $1`

	var url *string
	var secret *string
	err := r.db.QueryRow(ctx, query, userID).Scan(&url, &secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("Failed to get webhook settings", "error", err, "user_id", userID)
		return nil, err
	}

	if url == nil || *url == "" {
		return nil, nil
	}

	return &domain.WebhookSettings{URL: *url, Secret: secret}, nil
}
