package entities

import "time"

type MatchMode string

const (
	MatchExact      MatchMode = "exact"
	MatchContains   MatchMode = "contains"
	MatchStartsWith MatchMode = "starts_with"
)

// Automation is a keyword-triggered flow configured by a tenant.
// ConnectionID 0 means the automation applies to every connection.
type Automation struct {
	ID             int64     `json:"id"`
	ConnectionID   int64     `json:"connection_id,omitempty"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active"`
	TriggerEnabled bool      `json:"trigger_enabled"`
	Keywords       []string  `json:"keywords"`
	MatchMode      MatchMode `json:"match_mode"`
	CreatedAt      time.Time `json:"created_at"`
}

// AutomationSession points at an in-progress run owned by the flow engine
type AutomationSession struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	AutomationID   int64     `json:"automation_id"`
	CurrentNodeID  string    `json:"current_node_id"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}
