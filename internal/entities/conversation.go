package entities

import "time"

// Conversation is a thread with one remote party on one connection.
// RemoteJID is always stored in normalized form once it has been seen
// through the ingestion path.
type Conversation struct {
	ID            int64      `json:"id"`
	ConnectionID  int64      `json:"connection_id"`
	RemoteJID     string     `json:"remote_jid"`
	IsGroup       bool       `json:"is_group"`
	Name          string     `json:"name"`
	ContactPhone  string     `json:"contact_phone,omitempty"` // Empty for groups
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
