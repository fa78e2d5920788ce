package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"project_wainbox/internal/entities"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, connection_id, conversation_id, provider_message_id, optimistic, from_me, type, content,
	COALESCE(media_url, ''), COALESCE(media_mimetype, ''), status, COALESCE(quoted_message_id, ''),
	COALESCE(sender_name, ''), COALESCE(sender_phone, ''), sent_at, created_at, updated_at`

func scanMessage(row pgx.Row, extra ...any) (*entities.Message, error) {
	var m entities.Message
	dest := []any{&m.ID, &m.ConnectionID, &m.ConversationID, &m.ProviderMessageID, &m.Optimistic, &m.FromMe,
		&m.Type, &m.Content, &m.MediaURL, &m.MediaMimetype, &m.Status, &m.QuotedMessageID,
		&m.SenderName, &m.SenderPhone, &m.SentAt, &m.CreatedAt, &m.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) GetByProviderID(ctx context.Context, connectionID int64, providerID string) (*entities.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE connection_id = $1 AND provider_message_id = $2 AND NOT optimistic
	`, connectionID, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", providerID, err)
	}
	return m, nil
}

// ReconcileOptimistic claims the oldest still-pending optimistic outbound row
// of msgType and stamps it with the confirmed provider id. SKIP LOCKED keeps
// two concurrent confirmations from claiming the same row.
func (r *MessageRepository) ReconcileOptimistic(ctx context.Context, conversationID int64, msgType entities.MessageType, providerID string, since time.Time) (*entities.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages SET provider_message_id = $3, optimistic = FALSE, status = 'sent', updated_at = NOW()
		WHERE id = (
			SELECT id FROM messages
			WHERE conversation_id = $1 AND optimistic AND from_me
			  AND type = $2 AND status = 'pending' AND created_at >= $4
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+messageColumns,
		conversationID, msgType, providerID, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if isUniqueViolation(err) {
		// Another delivery already confirmed this provider id.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile optimistic message: %w", err)
	}
	return m, nil
}

// Upsert inserts a confirmed message. On a concurrent duplicate the stored
// non-null media wins and status only moves from pending to sent.
func (r *MessageRepository) Upsert(ctx context.Context, m *entities.Message) (*entities.Message, bool, error) {
	var inserted bool
	stored, err := scanMessage(r.db.QueryRow(ctx, `
		INSERT INTO messages (connection_id, conversation_id, provider_message_id, optimistic, from_me, type, content,
			media_url, media_mimetype, status, quoted_message_id, sender_name, sender_phone, sent_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9,
			NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)
		ON CONFLICT (connection_id, provider_message_id) WHERE NOT optimistic DO UPDATE SET
			media_url = COALESCE(messages.media_url, EXCLUDED.media_url),
			media_mimetype = COALESCE(messages.media_mimetype, EXCLUDED.media_mimetype),
			status = CASE
				WHEN messages.status = 'pending' AND EXCLUDED.status = 'sent' THEN 'sent'
				ELSE messages.status
			END,
			updated_at = NOW()
		RETURNING `+messageColumns+`, (xmax = 0)`,
		m.ConnectionID, m.ConversationID, m.ProviderMessageID, m.FromMe, m.Type, m.Content,
		m.MediaURL, m.MediaMimetype, m.Status, m.QuotedMessageID, m.SenderName, m.SenderPhone, m.SentAt),
		&inserted)
	if err != nil {
		return nil, false, fmt.Errorf("upsert message %q: %w", m.ProviderMessageID, err)
	}
	return stored, inserted, nil
}

func (r *MessageRepository) PatchMedia(ctx context.Context, id int64, url, mimetype string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET media_url = $2, media_mimetype = COALESCE(NULLIF($3, ''), media_mimetype), updated_at = NOW()
		WHERE id = $1
	`, id, url, mimetype)
	if err != nil {
		return fmt.Errorf("patch message media: %w", err)
	}
	return nil
}

// UpdateStatus applies status only when it outranks the stored one
func (r *MessageRepository) UpdateStatus(ctx context.Context, connectionID int64, providerID string, status entities.MessageStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET status = $3, updated_at = NOW()
		WHERE connection_id = $1 AND provider_message_id = $2 AND NOT optimistic
		  AND message_status_rank(status) < message_status_rank($3)
	`, connectionID, providerID, status)
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepository) InsertOptimistic(ctx context.Context, m *entities.Message) error {
	m.Optimistic = true
	m.FromMe = true
	m.Status = entities.StatusPending
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (connection_id, conversation_id, provider_message_id, optimistic, from_me, type, content,
			media_url, media_mimetype, status, quoted_message_id, sent_at)
		VALUES ($1, $2, $3, TRUE, TRUE, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)
		RETURNING id, created_at, updated_at
	`, m.ConnectionID, m.ConversationID, m.ProviderMessageID, m.Type, m.Content,
		m.MediaURL, m.MediaMimetype, m.Status, m.QuotedMessageID, m.SentAt,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert optimistic message: %w", err)
	}
	return nil
}

// ConfirmOptimistic stamps a provider id returned synchronously by the
// gateway. It reports false when the row was already reconciled.
func (r *MessageRepository) ConfirmOptimistic(ctx context.Context, id int64, providerID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET provider_message_id = $2, optimistic = FALSE,
			status = CASE WHEN status = 'pending' THEN 'sent' ELSE status END, updated_at = NOW()
		WHERE id = $1 AND optimistic
	`, id, providerID)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirm optimistic message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepository) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND optimistic AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	return nil
}

// ListByConversation pages backwards by id; before = 0 starts at the newest
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64, limit int, before int64) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND ($3::BIGINT = 0 OR id < $3)
		ORDER BY id DESC
		LIMIT $2
	`, conversationID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []entities.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
