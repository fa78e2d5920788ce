package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"project_wainbox/internal/entities"
)

// Store ports. Every write that can race with a concurrent webhook delivery
// is expressed as a single conditional statement by the implementation.

type ConnectionStore interface {
	GetByID(ctx context.Context, id int64) (*entities.Connection, error)
	// GetByInstance returns nil, nil when no connection uses the instance name
	GetByInstance(ctx context.Context, instance string) (*entities.Connection, error)
	ListByTenant(ctx context.Context, tenantID string) ([]entities.Connection, error)
	ListAll(ctx context.Context) ([]entities.Connection, error)
	Create(ctx context.Context, c *entities.Connection) error
	Delete(ctx context.Context, id int64) error
	// UpdateStatus stores the status when it differs from the stored one and
	// returns the previous value. changed is false when nothing was written.
	UpdateStatus(ctx context.Context, id int64, status entities.ConnectionStatus) (previous entities.ConnectionStatus, changed bool, err error)
}

// ConversationLookup describes the identifiers a conversation may be found by
type ConversationLookup struct {
	ConnectionID int64
	RemoteJID    string // Normalized
	Phone        string // Bare digits, empty for groups
	IsGroup      bool
}

type ConversationStore interface {
	// Find returns the best matching conversation or nil, nil.
	Find(ctx context.Context, lookup ConversationLookup) (*entities.Conversation, error)
	// Upsert inserts the conversation or returns the existing row for
	// (connection, remote_jid); a non-empty name fills an empty stored one.
	Upsert(ctx context.Context, c *entities.Conversation) (*entities.Conversation, error)
	// RepairIdentifier rewrites a drifted remote_jid unless another row
	// already owns the canonical value. Returns whether a row changed.
	RepairIdentifier(ctx context.Context, id int64, remoteJID string) (bool, error)
	// EnrichName sets the name only when name is non-empty
	EnrichName(ctx context.Context, id int64, name string) error
	// Touch bumps last activity (never backwards) and, for inbound, the unread counter
	Touch(ctx context.Context, id int64, at time.Time, inbound bool) error
	GetByID(ctx context.Context, id int64) (*entities.Conversation, error)
	ListByConnection(ctx context.Context, connectionID int64, limit int) ([]entities.Conversation, error)
	MarkRead(ctx context.Context, id int64) error
}

type MessageStore interface {
	// GetByProviderID returns the confirmed row with this id or nil, nil
	GetByProviderID(ctx context.Context, connectionID int64, providerID string) (*entities.Message, error)
	// ReconcileOptimistic stamps providerID on the oldest optimistic outbound
	// row of the given type created at or after since. Returns nil, nil if none.
	ReconcileOptimistic(ctx context.Context, conversationID int64, msgType entities.MessageType, providerID string, since time.Time) (*entities.Message, error)
	// Upsert inserts a confirmed message keyed by (connection, provider id).
	// On conflict existing non-null media wins and status only moves pending->sent.
	Upsert(ctx context.Context, m *entities.Message) (stored *entities.Message, inserted bool, err error)
	// PatchMedia fills media fields on an existing row
	PatchMedia(ctx context.Context, id int64, url, mimetype string) error
	// UpdateStatus applies status only if it ranks above the stored one
	UpdateStatus(ctx context.Context, connectionID int64, providerID string, status entities.MessageStatus) (bool, error)
	InsertOptimistic(ctx context.Context, m *entities.Message) error
	ConfirmOptimistic(ctx context.Context, id int64, providerID string) (bool, error)
	MarkFailed(ctx context.Context, id int64) error
	ListByConversation(ctx context.Context, conversationID int64, limit int, before int64) ([]entities.Message, error)
}

type AutomationStore interface {
	// ActiveSession returns nil, nil when the conversation has no active run
	ActiveSession(ctx context.Context, conversationID int64) (*entities.AutomationSession, error)
	// ListTriggerable returns active, trigger-enabled automations for the
	// connection or global scope, in creation order.
	ListTriggerable(ctx context.Context, connectionID int64) ([]entities.Automation, error)
}

// Collaborators

// MediaPayload is the gateway's answer to a media download request
type MediaPayload struct {
	Base64   string
	Mimetype string
	FileName string
}

type Gateway interface {
	FetchMediaBase64(ctx context.Context, conn *entities.Connection, rawMessage json.RawMessage) (MediaPayload, error)
	FetchInstanceStatus(ctx context.Context, conn *entities.Connection) (entities.ConnectionStatus, error)
	FetchGroupSubject(ctx context.Context, conn *entities.Connection, groupJID string) (string, error)
	SendText(ctx context.Context, conn *entities.Connection, number, text string) (string, error)
	Connect(ctx context.Context, conn *entities.Connection) (string, error)
}

type AutomationResult struct {
	Success        bool
	NodesProcessed int
	Error          string
}

type AutomationEngine interface {
	ContinueSession(ctx context.Context, conversationID int64, input string) (AutomationResult, error)
	StartAutomation(ctx context.Context, automationID, conversationID int64, trigger string) (AutomationResult, error)
}

type BlobStorage interface {
	Put(ctx context.Context, name string, r io.Reader) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// URL returns the public reference for a stored blob
	URL(name string) string
	// IsLocal reports whether url points at this storage
	IsLocal(url string) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data any) error
	Close() error
}

type Notifier interface {
	NotifyConnectionStatus(ctx context.Context, conn *entities.Connection, previous, current entities.ConnectionStatus) error
}

// SendLimiter throttles outbound sends per connection
type SendLimiter interface {
	Allow(connectionID int64) bool
	WaitTime(connectionID int64) time.Duration
}

type PresenceRecorder interface {
	SetTyping(conversationID int64, typing bool)
}
