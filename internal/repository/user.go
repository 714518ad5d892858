package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fast_focus/internal/domain"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	GetPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error)
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	Touch(ctx context.Context, userID uuid.UUID) error
	UpdateChatStatus(ctx context.Context, userID uuid.UUID, status domain.ChatStatus) error
	OnlineUsers(ctx context.Context) ([]*domain.UserPresence, error)
	Search(ctx context.Context, query string, excludeUserID uuid.UUID, limit, offset int, onlineOnly bool) (*domain.UserPage, error)
	ReapStale(ctx context.Context, threshold time.Duration) (int64, error)
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

const presenceColumns = `id, name, email, is_online, last_seen_at, chat_status`

func scanPresence(row pgx.Row) (*domain.UserPresence, error) {
	p := &domain.UserPresence{}
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.IsOnline, &p.LastSeenAt, &p.ChatStatus)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *userRepository) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error) {
	query := `SELECT ` + presenceColumns + ` FROM users WHERE id = $1`

	p, err := scanPresence(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user presence", "error", err, "user_id", userID)
		return nil, err
	}

	return p, nil
}

func (r *userRepository) SetOnline(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET is_online = TRUE, last_seen_at = NOW(), updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		r.log.Error("Failed to set user online", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *userRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET is_online = FALSE, last_seen_at = NOW(), updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		r.log.Error("Failed to set user offline", "error", err, "user_id", userID)
		return err
	}
	return nil
}

// Touch обновляет last_seen_at, не трогая флаг is_online (heartbeat).
func (r *userRepository) Touch(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET last_seen_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		r.log.Error("Failed to touch user activity", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *userRepository) UpdateChatStatus(ctx context.Context, userID uuid.UUID, status domain.ChatStatus) error {
	query := `UPDATE users SET chat_status = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, userID, status); err != nil {
		r.log.Error("Failed to update chat status", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *userRepository) OnlineUsers(ctx context.Context) ([]*domain.UserPresence, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM users
		WHERE is_online = TRUE
		ORDER BY last_seen_at DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.log.Error("Failed to list online users", "error", err)
		return nil, err
	}
	defer rows.Close()

	var users []*domain.UserPresence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, p)
	}

	return users, rows.Err()
}

func (r *userRepository) Search(ctx context.Context, query string, excludeUserID uuid.UUID, limit, offset int, onlineOnly bool) (*domain.UserPage, error) {
	// Регистронезависимый поиск по подстроке в имени или email, без самого
	// запрашивающего. Онлайн-пользователи идут первыми.
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	where := `id <> $1 AND (LOWER(COALESCE(name, '')) LIKE $2 OR LOWER(email) LIKE $2)`
	if onlineOnly {
		where += ` AND is_online = TRUE`
	}

	listQuery := fmt.Sprintf(`
		SELECT `+presenceColumns+`
		FROM users
		WHERE %s
		ORDER BY is_online DESC, last_seen_at DESC NULLS LAST
		LIMIT $3 OFFSET $4
	`, where)

	rows, err := r.db.Query(ctx, listQuery, excludeUserID, pattern, limit, offset)
	if err != nil {
		r.log.Error("Failed to search users", "error", err)
		return nil, err
	}
	defer rows.Close()

	page := &domain.UserPage{Users: []*domain.UserPresence{}}
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		page.Users = append(page.Users, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM users WHERE %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, excludeUserID, pattern).Scan(&page.Total); err != nil {
		r.log.Error("Failed to count search results", "error", err)
		return nil, err
	}

	return page, nil
}

// ReapStale переводит в offline пользователей, которые числятся online, но не
// подавали признаков жизни дольше threshold (обрыв соединения без Disconnect).
func (r *userRepository) ReapStale(ctx context.Context, threshold time.Duration) (int64, error) {
	query := `
		UPDATE users
		SET is_online = FALSE
		WHERE is_online = TRUE AND last_seen_at < $1
	`

	tag, err := r.db.Exec(ctx, query, time.Now().Add(-threshold))
	if err != nil {
		r.log.Error("Failed to reap stale presence", "error", err)
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *userRepository) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE id = ANY($1)`

	var count int
	if err := r.db.QueryRow(ctx, query, ids).Scan(&count); err != nil {
		r.log.Error("Failed to count users", "error", err)
		return 0, err
	}
	return count, nil
}
