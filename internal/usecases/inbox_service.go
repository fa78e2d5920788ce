package usecases

import (
	"context"
	"errors"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
	"project_wainbox/internal/repository"
)

var ErrConversationNotFound = errors.New("conversation not found")

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// InboxService is the tenant-scoped read side used by the operator API
type InboxService struct {
	connections   *ConnectionService
	conversations interfaces.ConversationStore
	messages      interfaces.MessageStore
	presence      PresenceReader
}

// PresenceReader exposes the current typing state of a conversation
type PresenceReader interface {
	IsTyping(conversationID int64) bool
}

func NewInboxService(connections *ConnectionService, conversations interfaces.ConversationStore, messages interfaces.MessageStore, presence PresenceReader) *InboxService {
	return &InboxService{
		connections:   connections,
		conversations: conversations,
		messages:      messages,
		presence:      presence,
	}
}

func (s *InboxService) ListConversations(ctx context.Context, tenantID string, connectionID int64, limit int) ([]entities.Conversation, error) {
	if _, err := s.connections.Get(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}
	return s.conversations.ListByConnection(ctx, connectionID, pageSize(limit))
}

// GetConversation returns the conversation and its connection when both
// belong to tenantID.
func (s *InboxService) GetConversation(ctx context.Context, tenantID string, id int64) (*entities.Conversation, *entities.Connection, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	conn, err := s.connections.Get(ctx, tenantID, conv.ConnectionID)
	if errors.Is(err, ErrConnectionNotFound) {
		return nil, nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return conv, conn, nil
}

// ListMessages pages backwards from before (0 means newest)
func (s *InboxService) ListMessages(ctx context.Context, tenantID string, conversationID int64, limit int, before int64) ([]entities.Message, error) {
	if _, _, err := s.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID, pageSize(limit), before)
}

func (s *InboxService) MarkRead(ctx context.Context, tenantID string, conversationID int64) error {
	if _, _, err := s.GetConversation(ctx, tenantID, conversationID); err != nil {
		return err
	}
	return s.conversations.MarkRead(ctx, conversationID)
}

func (s *InboxService) Typing(ctx context.Context, tenantID string, conversationID int64) (bool, error) {
	if _, _, err := s.GetConversation(ctx, tenantID, conversationID); err != nil {
		return false, err
	}
	if s.presence == nil {
		return false, nil
	}
	return s.presence.IsTyping(conversationID), nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
