package entities

import "time"

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageContact  MessageType = "contact"
	MessageLocation MessageType = "location"
)

// HasMedia reports whether messages of this type carry a binary attachment
func (t MessageType) HasMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageDocument, MessageSticker:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusReceived  MessageStatus = "received"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusPlayed    MessageStatus = "played"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders statuses along the delivery lifecycle. A status update is only
// applied when it has a strictly higher rank than the stored one. Failed is
// terminal and outranks everything. The SQL function message_status_rank in
// the schema migration applies the same order and must stay in step.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent, StatusReceived:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusPlayed:
		return 4
	case StatusFailed:
		return 5
	}
	return -1
}

// OptimisticIDPrefix marks placeholder ids of locally written outbound rows
const OptimisticIDPrefix = "tmp-"

type Message struct {
	ID                int64         `json:"id"`
	ConnectionID      int64         `json:"connection_id"`
	ConversationID    int64         `json:"conversation_id"`
	ProviderMessageID string        `json:"provider_message_id"`
	Optimistic        bool          `json:"optimistic"`
	FromMe            bool          `json:"from_me"`
	Type              MessageType   `json:"type"`
	Content           string        `json:"content"`
	MediaURL          string        `json:"media_url,omitempty"`
	MediaMimetype     string        `json:"media_mimetype,omitempty"`
	Status            MessageStatus `json:"status"`
	QuotedMessageID   string        `json:"quoted_message_id,omitempty"`
	SenderName        string        `json:"sender_name,omitempty"`  // Group attribution
	SenderPhone       string        `json:"sender_phone,omitempty"` // Group attribution
	SentAt            time.Time     `json:"sent_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
