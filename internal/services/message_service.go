package services

import (
	"context"

	"github.com/soulline/backend/internal/models"
	mongorepo "github.com/soulline/backend/internal/repositories/mongo"
	"github.com/soulline/backend/internal/utils"
)

type MessageService interface {
	Append(ctx context.Context, m *models.ChatMessage) error
	History(ctx context.Context, requestID string, limit int) ([]models.ChatMessage, error)
}

type messageService struct {
	messages mongorepo.MessageRepository
}

func NewMessageService(messages mongorepo.MessageRepository) MessageService {
	return &messageService{messages: messages}
}

func (s *messageService) Append(ctx context.Context, m *models.ChatMessage) error {
	const op = "MessageService.Append"

	if m == nil || m.RequestID == "" || m.SenderID == "" || m.Message == "" {
		return utils.E(utils.CodeInvalidArgument, op, "request_id, sender_id and message are required", nil)
	}
	if err := s.messages.Insert(ctx, m); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store message", err)
	}
	return nil
}

func (s *messageService) History(ctx context.Context, requestID string, limit int) ([]models.ChatMessage, error) {
	const op = "MessageService.History"

	if requestID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "request_id is required", nil)
	}
	out, err := s.messages.ListByRequest(ctx, requestID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list messages", err)
	}
	return out, nil
}
