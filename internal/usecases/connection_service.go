package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
	"project_wainbox/internal/repository"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInstanceTaken      = errors.New("instance name already in use")
)

const statusPollConcurrency = 4

// ConnectionService owns connection lifecycle: tenant CRUD, pairing and
// status transitions coming from webhooks or the poller.
type ConnectionService struct {
	connections interfaces.ConnectionStore
	gateway     interfaces.Gateway
	notifier    interfaces.Notifier
	events      interfaces.EventPublisher
	log         *slog.Logger
}

func NewConnectionService(connections interfaces.ConnectionStore, gateway interfaces.Gateway, notifier interfaces.Notifier, events interfaces.EventPublisher, log *slog.Logger) *ConnectionService {
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionService{
		connections: connections,
		gateway:     gateway,
		notifier:    notifier,
		events:      events,
		log:         log.With(slog.String("service", "connections")),
	}
}

type CreateConnectionInput struct {
	InstanceName  string `json:"instance_name" binding:"required,max=128"`
	GroupsEnabled bool   `json:"groups_enabled"`
	GatewayURL    string `json:"gateway_url" binding:"omitempty,url"`
	APIKey        string `json:"api_key"`
	AlertChatID   int64  `json:"alert_chat_id"`
}

func (s *ConnectionService) List(ctx context.Context, tenantID string) ([]entities.Connection, error) {
	return s.connections.ListByTenant(ctx, tenantID)
}

// Get returns the connection only if it belongs to tenantID
func (s *ConnectionService) Get(ctx context.Context, tenantID string, id int64) (*entities.Connection, error) {
	conn, err := s.connections.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	if conn.TenantID != tenantID {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

func (s *ConnectionService) Create(ctx context.Context, tenantID string, in CreateConnectionInput) (*entities.Connection, error) {
	conn := &entities.Connection{
		TenantID:      tenantID,
		InstanceName:  strings.TrimSpace(in.InstanceName),
		Status:        entities.ConnectionDisconnected,
		GroupsEnabled: in.GroupsEnabled,
		GatewayURL:    strings.TrimSpace(in.GatewayURL),
		APIKey:        in.APIKey,
		AlertChatID:   in.AlertChatID,
	}
	if err := s.connections.Create(ctx, conn); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrInstanceTaken
		}
		return nil, err
	}
	s.log.Info("connection created", slog.String("tenant", tenantID), slog.String("instance", conn.InstanceName))
	return conn, nil
}

func (s *ConnectionService) Delete(ctx context.Context, tenantID string, id int64) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.connections.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConnectionNotFound
		}
		return err
	}
	return nil
}

// PairingCode starts pairing on the gateway and returns the QR payload
func (s *ConnectionService) PairingCode(ctx context.Context, conn *entities.Connection) (string, error) {
	code, err := s.gateway.Connect(ctx, conn)
	if err != nil {
		return "", err
	}
	if _, err := s.ApplyStatus(ctx, conn, entities.ConnectionConnecting); err != nil {
		s.log.Warn("status not recorded after pairing request", slog.Any("error", err))
	}
	return code, nil
}

// ApplyStatus persists status if it changed and announces the transition.
// A drop to disconnected also alerts operators.
func (s *ConnectionService) ApplyStatus(ctx context.Context, conn *entities.Connection, status entities.ConnectionStatus) (bool, error) {
	previous, changed, err := s.connections.UpdateStatus(ctx, conn.ID, status)
	if err != nil {
		return false, fmt.Errorf("update status of %s: %w", conn.InstanceName, err)
	}
	if !changed {
		return false, nil
	}
	conn.Status = status

	s.log.Info("connection status changed",
		slog.String("instance", conn.InstanceName),
		slog.String("from", string(previous)),
		slog.String("to", string(status)))

	publish(ctx, s.events, s.log, EventConnectionStatus, ConnectionStatusEvent{
		TenantID:     conn.TenantID,
		ConnectionID: conn.ID,
		Instance:     conn.InstanceName,
		Previous:     previous,
		Status:       status,
	})

	if status == entities.ConnectionDisconnected && s.notifier != nil {
		if err := s.notifier.NotifyConnectionStatus(ctx, conn, previous, status); err != nil {
			s.log.Warn("status alert not sent", slog.String("instance", conn.InstanceName), slog.Any("error", err))
		}
	}
	return true, nil
}

// Refresh asks the gateway for the live state. A failed call leaves the
// stored status untouched.
func (s *ConnectionService) Refresh(ctx context.Context, conn *entities.Connection) (entities.ConnectionStatus, error) {
	status, err := s.gateway.FetchInstanceStatus(ctx, conn)
	if err != nil {
		return conn.Status, err
	}
	if _, err := s.ApplyStatus(ctx, conn, status); err != nil {
		return conn.Status, err
	}
	return status, nil
}

// PollAll refreshes every connection with bounded concurrency. Individual
// failures are logged; only listing errors are returned.
func (s *ConnectionService) PollAll(ctx context.Context) error {
	conns, err := s.connections.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusPollConcurrency)
	for i := range conns {
		conn := &conns[i]
		g.Go(func() error {
			if _, err := s.Refresh(gctx, conn); err != nil {
				s.log.Warn("status poll failed", slog.String("instance", conn.InstanceName), slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}
