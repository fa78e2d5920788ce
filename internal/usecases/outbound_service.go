package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

var (
	ErrEmptyMessage  = errors.New("message text is empty")
	ErrSendThrottled = errors.New("send rate exceeded for connection")
)

// OutboundService sends operator text through the gateway. The row is
// written optimistically first so the inbox shows it at once; the send
// confirmation webhook or the synchronous gateway answer confirms it.
type OutboundService struct {
	messages      interfaces.MessageStore
	conversations *ConversationResolver
	gateway       interfaces.Gateway
	events        interfaces.EventPublisher
	limiter       interfaces.SendLimiter
	now           func() time.Time
	log           *slog.Logger
}

func NewOutboundService(messages interfaces.MessageStore, conversations *ConversationResolver, gateway interfaces.Gateway, events interfaces.EventPublisher, limiter interfaces.SendLimiter, log *slog.Logger) *OutboundService {
	if log == nil {
		log = slog.Default()
	}
	return &OutboundService{
		messages:      messages,
		conversations: conversations,
		gateway:       gateway,
		events:        events,
		limiter:       limiter,
		now:           time.Now,
		log:           log.With(slog.String("service", "outbound")),
	}
}

// SendText returns the stored message. A gateway failure marks the row
// failed and is returned together with it.
func (s *OutboundService) SendText(ctx context.Context, conn *entities.Connection, conv *entities.Conversation, text string) (*entities.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if s.limiter != nil && !s.limiter.Allow(conn.ID) {
		return nil, fmt.Errorf("%w: retry in %s", ErrSendThrottled, s.limiter.WaitTime(conn.ID).Round(time.Second))
	}

	msg := &entities.Message{
		ConnectionID:      conn.ID,
		ConversationID:    conv.ID,
		ProviderMessageID: entities.OptimisticIDPrefix + uuid.NewString(),
		Type:              entities.MessageText,
		Content:           text,
		SentAt:            s.now().UTC(),
	}
	if err := s.messages.InsertOptimistic(ctx, msg); err != nil {
		return nil, fmt.Errorf("store outbound message: %w", err)
	}
	if err := s.conversations.Touch(ctx, conv, msg.SentAt, false); err != nil {
		s.log.Warn("conversation not touched", slog.Int64("conversation_id", conv.ID), slog.Any("error", err))
	}
	publish(ctx, s.events, s.log, EventMessageCreated, MessageCreatedEvent{
		TenantID:     conn.TenantID,
		Conversation: conv,
		Message:      msg,
	})

	number := conv.ContactPhone
	if conv.IsGroup || number == "" {
		number = conv.RemoteJID
	}
	providerID, err := s.gateway.SendText(ctx, conn, number, text)
	if err != nil {
		if markErr := s.messages.MarkFailed(ctx, msg.ID); markErr != nil {
			s.log.Error("outbound message not marked failed", slog.Int64("message_id", msg.ID), slog.Any("error", markErr))
		} else {
			msg.Status = entities.StatusFailed
			s.publishStatus(ctx, conn, msg)
		}
		return msg, fmt.Errorf("send text: %w", err)
	}

	if providerID == "" {
		// The send confirmation webhook reconciles the row later
		return msg, nil
	}
	confirmed, err := s.messages.ConfirmOptimistic(ctx, msg.ID, providerID)
	if err != nil {
		return msg, fmt.Errorf("confirm outbound message: %w", err)
	}
	if confirmed {
		msg.ProviderMessageID = providerID
		msg.Optimistic = false
		msg.Status = entities.StatusSent
		s.publishStatus(ctx, conn, msg)
	}
	return msg, nil
}

func (s *OutboundService) publishStatus(ctx context.Context, conn *entities.Connection, msg *entities.Message) {
	publish(ctx, s.events, s.log, EventMessageStatus, MessageStatusEvent{
		TenantID:          conn.TenantID,
		ConnectionID:      conn.ID,
		ProviderMessageID: msg.ProviderMessageID,
		Status:            msg.Status,
	})
}
