package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

const (
	groupPlaceholderName = "Group"
	// groupSubjectRefresh bounds how often a named group's subject is re-read
	groupSubjectRefresh = 10 * time.Minute
)

// ConversationRef identifies the remote party of an event
type ConversationRef struct {
	RemoteJID string // normalized
	Phone     string // empty for groups
	IsGroup   bool
	PushName  string
	FromMe    bool
}

// ConversationResolver finds or creates the thread an event belongs to and
// keeps its identifier and display name current.
type ConversationResolver struct {
	store   interfaces.ConversationStore
	gateway interfaces.Gateway
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu             sync.Mutex
	subjectChecked map[int64]time.Time
}

func NewConversationResolver(store interfaces.ConversationStore, gateway interfaces.Gateway, timeout time.Duration, log *slog.Logger) *ConversationResolver {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationResolver{
		store:          store,
		gateway:        gateway,
		timeout:        timeout,
		now:            time.Now,
		log:            log.With(slog.String("service", "conversations")),
		subjectChecked: make(map[int64]time.Time),
	}
}

// Lookup returns the existing conversation for ref without creating one
func (r *ConversationResolver) Lookup(ctx context.Context, conn *entities.Connection, ref ConversationRef) (*entities.Conversation, error) {
	return r.store.Find(ctx, interfaces.ConversationLookup{
		ConnectionID: conn.ID,
		RemoteJID:    ref.RemoteJID,
		Phone:        ref.Phone,
		IsGroup:      ref.IsGroup,
	})
}

// Resolve returns the conversation for ref, creating it on first sight.
// Counters are left alone; Touch records activity once a message is stored.
func (r *ConversationResolver) Resolve(ctx context.Context, conn *entities.Connection, ref ConversationRef) (*entities.Conversation, error) {
	conv, err := r.Lookup(ctx, conn, ref)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return r.create(ctx, conn, ref)
	}

	if !ref.IsGroup && conv.RemoteJID != ref.RemoteJID {
		repaired, err := r.store.RepairIdentifier(ctx, conv.ID, ref.RemoteJID)
		if err != nil {
			return nil, err
		}
		if repaired {
			r.log.Info("conversation identifier repaired",
				slog.Int64("conversation_id", conv.ID),
				slog.String("from", conv.RemoteJID),
				slog.String("to", ref.RemoteJID))
			conv.RemoteJID = ref.RemoteJID
		}
	}

	if name := r.enrichedName(ctx, conn, conv, ref); name != "" && name != conv.Name {
		if err := r.store.EnrichName(ctx, conv.ID, name); err != nil {
			return nil, err
		}
		conv.Name = name
	}
	return conv, nil
}

// Touch records a stored message on the conversation
func (r *ConversationResolver) Touch(ctx context.Context, conv *entities.Conversation, at time.Time, inbound bool) error {
	if err := r.store.Touch(ctx, conv.ID, at, inbound); err != nil {
		return err
	}
	if conv.LastMessageAt == nil || at.After(*conv.LastMessageAt) {
		conv.LastMessageAt = &at
	}
	if inbound {
		conv.UnreadCount++
	}
	return nil
}

func (r *ConversationResolver) create(ctx context.Context, conn *entities.Connection, ref ConversationRef) (*entities.Conversation, error) {
	name := ref.Phone
	if ref.IsGroup {
		name = r.groupSubject(ctx, conn, ref.RemoteJID)
		if name == "" {
			name = groupPlaceholderName
		}
	} else if !ref.FromMe && ref.PushName != "" {
		name = ref.PushName
	}

	conv, err := r.store.Upsert(ctx, &entities.Conversation{
		ConnectionID: conn.ID,
		RemoteJID:    ref.RemoteJID,
		IsGroup:      ref.IsGroup,
		Name:         name,
		ContactPhone: ref.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if ref.IsGroup {
		r.markSubjectChecked(conv.ID)
	}
	return conv, nil
}

// enrichedName returns the name that should replace the stored one, or "".
// Individual chats follow the contact's latest push name (only inbound
// events carry it). Groups on a placeholder fetch the subject every time;
// named groups re-read it at most once per groupSubjectRefresh so renames
// are picked up.
func (r *ConversationResolver) enrichedName(ctx context.Context, conn *entities.Connection, conv *entities.Conversation, ref ConversationRef) string {
	if ref.IsGroup {
		if conv.Name != "" && conv.Name != groupPlaceholderName && !r.subjectDue(conv.ID) {
			return ""
		}
		subject := r.groupSubject(ctx, conn, ref.RemoteJID)
		r.markSubjectChecked(conv.ID)
		return subject
	}
	if ref.FromMe {
		return ""
	}
	return ref.PushName
}

func (r *ConversationResolver) groupSubject(ctx context.Context, conn *entities.Connection, groupJID string) string {
	if r.gateway == nil {
		return ""
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	subject, err := r.gateway.FetchGroupSubject(ctx, conn, groupJID)
	if err != nil {
		r.log.Warn("group subject unavailable", slog.String("group", groupJID), slog.Any("error", err))
		return ""
	}
	return subject
}

func (r *ConversationResolver) subjectDue(conversationID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.subjectChecked[conversationID]
	return !ok || r.now().Sub(last) >= groupSubjectRefresh
}

func (r *ConversationResolver) markSubjectChecked(conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjectChecked[conversationID] = r.now()
}
