package entities

import (
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
)

// Connection is one tenant's link to a gateway instance
type Connection struct {
	ID            int64            `json:"id"`
	TenantID      string           `json:"tenant_id"`
	InstanceName  string           `json:"instance_name"` // Unique gateway instance identifier
	Status        ConnectionStatus `json:"status"`
	GroupsEnabled bool             `json:"groups_enabled"`
	GatewayURL    string           `json:"gateway_url,omitempty"` // Empty means the global gateway
	APIKey        string           `json:"-"`
	AlertChatID   int64            `json:"alert_chat_id,omitempty"` // Telegram chat for status alerts (0 = global default)
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ParseConnectionStatus maps a gateway instance state onto a connection
// status. Unknown states count as disconnected.
func ParseConnectionStatus(state string) ConnectionStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open", "connected":
		return ConnectionConnected
	case "connecting":
		return ConnectionConnecting
	}
	return ConnectionDisconnected
}
