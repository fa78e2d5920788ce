package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"project_wainbox/internal/entities"
)

// AutomationRepository reads the tables owned by the flow engine
type AutomationRepository struct {
	db *pgxpool.Pool
}

func NewAutomationRepository(db *pgxpool.Pool) *AutomationRepository {
	return &AutomationRepository{db: db}
}

func (r *AutomationRepository) ActiveSession(ctx context.Context, conversationID int64) (*entities.AutomationSession, error) {
	var s entities.AutomationSession
	err := r.db.QueryRow(ctx, `
		SELECT id, conversation_id, automation_id, current_node_id, is_active, updated_at
		FROM automation_sessions
		WHERE conversation_id = $1 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1
	`, conversationID).Scan(&s.ID, &s.ConversationID, &s.AutomationID, &s.CurrentNodeID, &s.IsActive, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active automation session: %w", err)
	}
	return &s, nil
}

func (r *AutomationRepository) ListTriggerable(ctx context.Context, connectionID int64) ([]entities.Automation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, COALESCE(connection_id, 0), name, is_active, trigger_enabled, keywords, match_mode, created_at
		FROM automations
		WHERE is_active AND trigger_enabled AND (connection_id = $1 OR connection_id IS NULL)
		ORDER BY created_at ASC, id ASC
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()

	autos := []entities.Automation{}
	for rows.Next() {
		var a entities.Automation
		if err := rows.Scan(&a.ID, &a.ConnectionID, &a.Name, &a.IsActive, &a.TriggerEnabled,
			&a.Keywords, &a.MatchMode, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		autos = append(autos, a)
	}
	return autos, rows.Err()
}
