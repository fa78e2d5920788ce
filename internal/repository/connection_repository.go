package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"project_wainbox/internal/entities"
)

type ConnectionRepository struct {
	db *pgxpool.Pool
}

func NewConnectionRepository(db *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, tenant_id, instance_name, status, groups_enabled, gateway_url, api_key,
	COALESCE(alert_chat_id, 0), created_at, updated_at`

func scanConnection(row pgx.Row) (*entities.Connection, error) {
	var c entities.Connection
	err := row.Scan(&c.ID, &c.TenantID, &c.InstanceName, &c.Status, &c.GroupsEnabled,
		&c.GatewayURL, &c.APIKey, &c.AlertChatID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id int64) (*entities.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %d: %w", id, err)
	}
	return c, nil
}

// GetByInstance looks a connection up by its gateway instance name
func (r *ConnectionRepository) GetByInstance(ctx context.Context, instance string) (*entities.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE instance_name = $1 AND deleted_at IS NULL
	`, instance))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection by instance %q: %w", instance, err)
	}
	return c, nil
}

func (r *ConnectionRepository) ListByTenant(ctx context.Context, tenantID string) ([]entities.Connection, error) {
	return r.list(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY id ASC
	`, tenantID)
}

func (r *ConnectionRepository) ListAll(ctx context.Context) ([]entities.Connection, error) {
	return r.list(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE deleted_at IS NULL
		ORDER BY id ASC
	`)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]entities.Connection, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	conns := []entities.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (r *ConnectionRepository) Create(ctx context.Context, c *entities.Connection) error {
	if c.Status == "" {
		c.Status = entities.ConnectionDisconnected
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO connections (tenant_id, instance_name, status, groups_enabled, gateway_url, api_key, alert_chat_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0))
		RETURNING id, created_at, updated_at
	`, c.TenantID, c.InstanceName, c.Status, c.GroupsEnabled, c.GatewayURL, c.APIKey, c.AlertChatID,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// Delete soft-deletes the connection. Its conversations and messages stay.
func (r *ConnectionRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE connections SET deleted_at = NOW(), status = 'disconnected', updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete connection %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus writes status only when it differs from the stored value and
// returns what was stored before.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id int64, status entities.ConnectionStatus) (entities.ConnectionStatus, bool, error) {
	var previous entities.ConnectionStatus
	err := r.db.QueryRow(ctx, `
		UPDATE connections c SET status = $2, updated_at = NOW()
		FROM (SELECT id, status FROM connections WHERE id = $1 AND deleted_at IS NULL FOR UPDATE) prev
		WHERE c.id = prev.id AND prev.status <> $2
		RETURNING prev.status
	`, id, status).Scan(&previous)
	if err == nil {
		return previous, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("update connection status: %w", err)
	}

	err = r.db.QueryRow(ctx, `SELECT status FROM connections WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("read connection status: %w", err)
	}
	return previous, false, nil
}
