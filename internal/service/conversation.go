package service

import (
	"context"
	"errors"
	"strings"

	"fast_focus/internal/domain"
	"fast_focus/internal/repository"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
)

type ConversationService interface {
	Create(ctx context.Context, creatorID uuid.UUID, input domain.CreateConversationInput) (*domain.ConversationSummary, error)
	Get(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.ConversationSummary, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.ConversationPage, error)
	// Authorize отличает отсутствующий диалог (ErrConversationNotFound) от
	// диалога, к которому у пользователя нет доступа (ErrNotAParticipant).
	Authorize(ctx context.Context, conversationID, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, conversationID, userID uuid.UUID) error
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
	userRepo         repository.UserRepository
	log              logger.Logger
}

func NewConversationService(conversationRepo repository.ConversationRepository, userRepo repository.UserRepository, log logger.Logger) ConversationService {
	return &conversationService{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		log:              log,
	}
}

func (s *conversationService) Create(ctx context.Context, creatorID uuid.UUID, input domain.CreateConversationInput) (*domain.ConversationSummary, error) {
	switch input.Type {
	case domain.ConversationTypeDirect:
		return s.createDirect(ctx, creatorID, input)
	case domain.ConversationTypeGroup:
		return s.createGroup(ctx, creatorID, input)
	default:
		return nil, apperrors.ErrValidation
	}
}

func (s *conversationService) createDirect(ctx context.Context, creatorID uuid.UUID, input domain.CreateConversationInput) (*domain.ConversationSummary, error) {
	if input.ParticipantID == nil {
		return nil, apperrors.ErrValidation
	}
	participantID := *input.ParticipantID
	if participantID == creatorID {
		return nil, apperrors.ErrValidation
	}

	// Собеседник должен существовать.
	if _, err := s.userRepo.GetPresence(ctx, participantID); err != nil {
		return nil, err
	}

	// Между парой пользователей допустим ровно один DIRECT-диалог.
	existing, err := s.conversationRepo.FindDirectBetween(ctx, creatorID, participantID)
	if err != nil && !errors.Is(err, apperrors.ErrConversationNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.ErrDirectConversationExists
	}

	conversation := &domain.Conversation{
		ID:   uuid.New(),
		Type: domain.ConversationTypeDirect,
	}
	if err := s.conversationRepo.Create(ctx, conversation, []uuid.UUID{creatorID, participantID}); err != nil {
		return nil, err
	}

	s.log.Info("Direct conversation created", "conversation_id", conversation.ID, "creator_id", creatorID)
	return s.buildSummary(ctx, conversation, creatorID)
}

func (s *conversationService) createGroup(ctx context.Context, creatorID uuid.UUID, input domain.CreateConversationInput) (*domain.ConversationSummary, error) {
	if input.Name == nil || strings.TrimSpace(*input.Name) == "" {
		return nil, apperrors.ErrValidation
	}
	if len(input.ParticipantIDs) == 0 {
		return nil, apperrors.ErrValidation
	}

	// Создатель включается автоматически; его id в списке — ошибка запроса.
	unique := make([]uuid.UUID, 0, len(input.ParticipantIDs))
	seen := make(map[uuid.UUID]bool)
	for _, id := range input.ParticipantIDs {
		if id == creatorID {
			return nil, apperrors.ErrValidation
		}
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	count, err := s.userRepo.CountExisting(ctx, unique)
	if err != nil {
		return nil, err
	}
	if count != len(unique) {
		return nil, apperrors.ErrUserNotFound
	}

	name := strings.TrimSpace(*input.Name)
	conversation := &domain.Conversation{
		ID:   uuid.New(),
		Type: domain.ConversationTypeGroup,
		Name: &name,
	}
	if err := s.conversationRepo.Create(ctx, conversation, append([]uuid.UUID{creatorID}, unique...)); err != nil {
		return nil, err
	}

	s.log.Info("Group conversation created", "conversation_id", conversation.ID, "participants", len(unique)+1)
	return s.buildSummary(ctx, conversation, creatorID)
}

func (s *conversationService) Get(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.ConversationSummary, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	isParticipant, err := s.conversationRepo.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, apperrors.ErrNotAParticipant
	}

	return s.buildSummary(ctx, conversation, requesterID)
}

func (s *conversationService) List(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.ConversationPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	conversations, total, err := s.conversationRepo.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &domain.ConversationPage{
		Conversations: make([]*domain.ConversationSummary, 0, len(conversations)),
		Total:         total,
		HasMore:       offset+len(conversations) < total,
	}
	for _, c := range conversations {
		summary, err := s.buildSummary(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		page.Conversations = append(page.Conversations, summary)
	}

	return page, nil
}

func (s *conversationService) Authorize(ctx context.Context, conversationID, userID uuid.UUID) error {
	if _, err := s.conversationRepo.GetByID(ctx, conversationID); err != nil {
		return err
	}

	isParticipant, err := s.conversationRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !isParticipant {
		return apperrors.ErrNotAParticipant
	}
	return nil
}

func (s *conversationService) MarkAllRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := s.Authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.conversationRepo.TouchReadCursor(ctx, conversationID, userID)
}

func (s *conversationService) buildSummary(ctx context.Context, conversation *domain.Conversation, requesterID uuid.UUID) (*domain.ConversationSummary, error) {
	participants, err := s.conversationRepo.GetParticipants(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	preview, err := s.conversationRepo.LastMessagePreview(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	unread, err := s.conversationRepo.UnreadCount(ctx, conversation.ID, requesterID)
	if err != nil {
		return nil, err
	}

	return &domain.ConversationSummary{
		ID:            conversation.ID,
		Type:          conversation.Type,
		Name:          conversation.Name,
		LastMessage:   preview,
		LastMessageAt: conversation.LastMessageAt,
		UnreadCount:   unread,
		Participants:  participants,
		CreatedAt:     conversation.CreatedAt,
		UpdatedAt:     conversation.UpdatedAt,
	}, nil
}
