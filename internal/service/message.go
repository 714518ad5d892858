package service

import (
	"context"
	"strings"

	"fast_focus/internal/domain"
	"fast_focus/internal/repository"
	apperrors "fast_focus/pkg/errors"
	"fast_focus/pkg/logger"

	"github.com/google/uuid"
)

type MessageService interface {
	Send(ctx context.Context, conversationID, senderID uuid.UUID, content string, messageType domain.MessageType) (*domain.Message, error)
	List(ctx context.Context, conversationID, requesterID uuid.UUID, opts domain.ListMessagesOptions) (*domain.MessagePage, error)
	// MarkRead продвигает курсор чтения вызывающего и, если сообщение чужое,
	// переводит его статус в READ. Второй результат — изменился ли статус.
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, bool, error)
	Edit(ctx context.Context, messageID, editorID uuid.UUID, content string) (*domain.Message, error)
	Delete(ctx context.Context, messageID, requesterID uuid.UUID) error
}

type messageService struct {
	messageRepo      repository.MessageRepository
	conversationRepo repository.ConversationRepository
	log              logger.Logger
}

func NewMessageService(messageRepo repository.MessageRepository, conversationRepo repository.ConversationRepository, log logger.Logger) MessageService {
	return &messageService{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		log:              log,
	}
}

func (s *messageService) Send(ctx context.Context, conversationID, senderID uuid.UUID, content string, messageType domain.MessageType) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ErrValidation
	}
	if messageType == "" {
		messageType = domain.MessageTypeText
	}
	if !messageType.Valid() {
		return nil, apperrors.ErrValidation
	}

	isParticipant, err := s.conversationRepo.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, apperrors.ErrNotAParticipant
	}

	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           messageType,
		Status:         domain.MessageStatusSent,
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	// Перечитываем, чтобы вернуть денормализованную сводку отправителя.
	return s.messageRepo.GetByID(ctx, message.ID)
}

func (s *messageService) List(ctx context.Context, conversationID, requesterID uuid.UUID, opts domain.ListMessagesOptions) (*domain.MessagePage, error) {
	isParticipant, err := s.conversationRepo.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, apperrors.ErrNotAParticipant
	}

	return s.messageRepo.List(ctx, conversationID, opts)
}

func (s *messageService) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, bool, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}

	isParticipant, err := s.conversationRepo.IsParticipant(ctx, message.ConversationID, readerID)
	if err != nil {
		return nil, false, err
	}
	if !isParticipant {
		return nil, false, apperrors.ErrNotAParticipant
	}

	// Курсор двигается только вперёд; более ранний timestamp — no-op.
	if err := s.conversationRepo.AdvanceReadCursor(ctx, message.ConversationID, readerID, message.CreatedAt); err != nil {
		return nil, false, err
	}

	// Своё сообщение в READ не переводится.
	if message.SenderID == readerID {
		return message, false, nil
	}

	updated, err := s.messageRepo.UpdateStatus(ctx, messageID, domain.MessageStatusRead)
	if err != nil {
		return nil, false, err
	}

	changed := message.Status != domain.MessageStatusRead && updated.Status == domain.MessageStatusRead
	return updated, changed, nil
}

func (s *messageService) Edit(ctx context.Context, messageID, editorID uuid.UUID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ErrValidation
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != editorID {
		return nil, apperrors.ErrForbidden
	}

	return s.messageRepo.UpdateContent(ctx, messageID, content)
}

func (s *messageService) Delete(ctx context.Context, messageID, requesterID uuid.UUID) error {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if message.SenderID != requesterID {
		return apperrors.ErrForbidden
	}

	return s.messageRepo.Delete(ctx, messageID)
}
