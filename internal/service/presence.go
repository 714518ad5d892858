package service

import (
	"context"
	"time"

	"fast_focus/internal/domain"
	"fast_focus/internal/repository"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
)

type PresenceService interface {
	GetPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error)
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	Touch(ctx context.Context, userID uuid.UUID) error
	UpdateChatStatus(ctx context.Context, userID uuid.UUID, status domain.ChatStatus) error
	OnlineUsers(ctx context.Context) ([]*domain.UserPresence, error)
	Search(ctx context.Context, query string, excludeUserID uuid.UUID, limit, offset int, onlineOnly bool) (*domain.UserPage, error)
	ReapStale(ctx context.Context, threshold time.Duration) (int64, error)
}

type presenceService struct {
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewPresenceService(userRepo repository.UserRepository, log logger.Logger) PresenceService {
	return &presenceService{userRepo: userRepo, log: log}
}

func (s *presenceService) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error) {
	return s.userRepo.GetPresence(ctx, userID)
}

func (s *presenceService) SetOnline(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.SetOnline(ctx, userID)
}

func (s *presenceService) SetOffline(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.SetOffline(ctx, userID)
}

func (s *presenceService) Touch(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.Touch(ctx, userID)
}

func (s *presenceService) UpdateChatStatus(ctx context.Context, userID uuid.UUID, status domain.ChatStatus) error {
	if !status.Valid() {
		return apperrors.ErrValidation
	}
	return s.userRepo.UpdateChatStatus(ctx, userID, status)
}

func (s *presenceService) OnlineUsers(ctx context.Context) ([]*domain.UserPresence, error) {
	return s.userRepo.OnlineUsers(ctx)
}

func (s *presenceService) Search(ctx context.Context, query string, excludeUserID uuid.UUID, limit, offset int, onlineOnly bool) (*domain.UserPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.userRepo.Search(ctx, query, excludeUserID, limit, offset, onlineOnly)
}

func (s *presenceService) ReapStale(ctx context.Context, threshold time.Duration) (int64, error) {
	count, err := s.userRepo.ReapStale(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info("Reaped stale presence", "count", count, "threshold", threshold)
	}
	return count, nil
}
