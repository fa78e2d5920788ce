package usecases

import (
	"context"
	"log/slog"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

// Domain event types, also used as AMQP routing keys
const (
	EventMessageCreated   = "message.created"
	EventMessageStatus    = "message.status"
	EventConnectionStatus = "connection.status"
)

type MessageCreatedEvent struct {
	TenantID     string                 `json:"tenant_id"`
	Conversation *entities.Conversation `json:"conversation"`
	Message      *entities.Message      `json:"message"`
}

type MessageStatusEvent struct {
	TenantID          string                 `json:"tenant_id"`
	ConnectionID      int64                  `json:"connection_id"`
	ProviderMessageID string                 `json:"provider_message_id"`
	Status            entities.MessageStatus `json:"status"`
}

type ConnectionStatusEvent struct {
	TenantID     string                    `json:"tenant_id"`
	ConnectionID int64                     `json:"connection_id"`
	Instance     string                    `json:"instance"`
	Previous     entities.ConnectionStatus `json:"previous"`
	Status       entities.ConnectionStatus `json:"status"`
}

// publish never fails the caller; broker problems are only logged
func publish(ctx context.Context, events interfaces.EventPublisher, log *slog.Logger, eventType string, data any) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, eventType, data); err != nil {
		log.Warn("event not published", slog.String("type", eventType), slog.Any("error", err))
	}
}
