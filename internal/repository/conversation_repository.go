package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, connection_id, remote_jid, is_group, name, COALESCE(contact_phone, ''),
	last_message_at, unread_count, created_at, updated_at`

func scanConversation(row pgx.Row) (*entities.Conversation, error) {
	var c entities.Conversation
	err := row.Scan(&c.ID, &c.ConnectionID, &c.RemoteJID, &c.IsGroup, &c.Name, &c.ContactPhone,
		&c.LastMessageAt, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Find matches groups by exact identifier. Individual chats also match by
// bare phone, whether stored in contact_phone or only inside a legacy
// identifier, preferring canonical identifiers and then recent activity.
func (r *ConversationRepository) Find(ctx context.Context, lookup interfaces.ConversationLookup) (*entities.Conversation, error) {
	var row pgx.Row
	if lookup.IsGroup || lookup.Phone == "" {
		row = r.db.QueryRow(ctx, `
			SELECT `+conversationColumns+` FROM conversations
			WHERE connection_id = $1 AND remote_jid = $2
		`, lookup.ConnectionID, lookup.RemoteJID)
	} else {
		row = r.db.QueryRow(ctx, `
			SELECT `+conversationColumns+` FROM conversations
			WHERE connection_id = $1 AND is_group = FALSE
			  AND (remote_jid = $2
			       OR contact_phone = $3
			       OR split_part(split_part(remote_jid, '@', 1), ':', 1) = $3)
			ORDER BY (remote_jid LIKE '%@s.whatsapp.net') DESC,
			         last_message_at DESC NULLS LAST,
			         id DESC
			LIMIT 1
		`, lookup.ConnectionID, lookup.RemoteJID, lookup.Phone)
	}

	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

// Upsert creates the conversation with a zero unread counter. A concurrent
// creator of the same (connection, remote_jid) gets the existing row back,
// with an empty stored name or phone filled from the new values.
func (r *ConversationRepository) Upsert(ctx context.Context, c *entities.Conversation) (*entities.Conversation, error) {
	stored, err := scanConversation(r.db.QueryRow(ctx, `
		INSERT INTO conversations (connection_id, remote_jid, is_group, name, contact_phone, unread_count)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 0)
		ON CONFLICT (connection_id, remote_jid) DO UPDATE SET
			name = CASE WHEN conversations.name = '' THEN EXCLUDED.name ELSE conversations.name END,
			contact_phone = COALESCE(conversations.contact_phone, EXCLUDED.contact_phone),
			updated_at = NOW()
		RETURNING `+conversationColumns,
		c.ConnectionID, c.RemoteJID, c.IsGroup, c.Name, c.ContactPhone))
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return stored, nil
}

func (r *ConversationRepository) RepairIdentifier(ctx context.Context, id int64, remoteJID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations SET remote_jid = $2, updated_at = NOW()
		WHERE id = $1 AND remote_jid <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM conversations other
			WHERE other.connection_id = conversations.connection_id AND other.remote_jid = $2
		  )
	`, id, remoteJID)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repair conversation identifier: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) EnrichName(ctx context.Context, id int64, name string) error {
	if name == "" {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET name = $2, updated_at = NOW()
		WHERE id = $1 AND name IS DISTINCT FROM $2
	`, id, name)
	if err != nil {
		return fmt.Errorf("enrich conversation name: %w", err)
	}
	return nil
}

// Touch moves last activity forward (GREATEST ignores a NULL current value)
// and bumps the unread counter for inbound messages.
func (r *ConversationRepository) Touch(ctx context.Context, id int64, at time.Time, inbound bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET
			last_message_at = GREATEST(last_message_at, $2),
			unread_count = unread_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE id = $1
	`, id, at, inbound)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*entities.Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return c, nil
}

func (r *ConversationRepository) ListByConnection(ctx context.Context, connectionID int64, limit int) ([]entities.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE connection_id = $1
		ORDER BY last_message_at DESC NULLS LAST, id DESC
		LIMIT $2
	`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := []entities.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (r *ConversationRepository) MarkRead(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE conversations SET unread_count = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
