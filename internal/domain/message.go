package domain

import "time"

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
)

// ValidContentType reports whether ct is one of the accepted content types.
// An empty value is accepted and normalized to text by the gateway.
func ValidContentType(ct ContentType) bool {
	switch ct {
	case "", ContentTypeText, ContentTypeImage, ContentTypeFile:
		return true
	}
	return false
}

// Message is the canonical, persisted form of a chat message. The ID and
// CreatedAt fields are assigned by the persistence layer before fan-out.
type Message struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"roomId"`
	SenderID    string      `json:"senderId"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsEdited    bool        `json:"isEdited"`
	IsDeleted   bool        `json:"isDeleted"`
}

// TypingIndicator is ephemeral and never persisted.
type TypingIndicator struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

type UserPresence struct {
	RoomID string         `json:"roomId"`
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// Principal is the authenticated identity attached to a connection.
type Principal struct {
	UserID   string
	Username string
}
