package chat

// RoomType classifies how a room is joined.
type RoomType string

const (
	RoomTypePublic  RoomType = "public"
	RoomTypePrivate RoomType = "private"
	RoomTypeDirect  RoomType = "direct"
)

// RoomStatus tracks a room's lifecycle. RoomStatusDeleted exists for parity
// with the client type definitions; rooms are hard-deleted and no code path
// assigns it.
type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "active"
	RoomStatusArchived RoomStatus = "archived"
	RoomStatusDeleted  RoomStatus = "deleted"
)

// MessageType tags the payload kind of a chat message.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypeSystem       MessageType = "system"
	MessageTypeNotification MessageType = "notification"
)

// ChatRoom describes one room as stored in the realtime tree. The identifier
// is the backend-assigned key of the room node. MemberCount is best-effort
// and not transactionally maintained. LastMessage is a denormalized copy of
// the most recent message kept for list views; it may lag the message log.
type ChatRoom struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	MemberCount int          `json:"memberCount"`
	Active      bool         `json:"active"`
	CreatedAt   int64        `json:"createdAt"`
	CreatedBy   string       `json:"createdBy"`
	Type        RoomType     `json:"type"`
	Status      RoomStatus   `json:"status"`
	LastMessage *ChatMessage `json:"lastMessage,omitempty"`
}

// Attachment references an uploaded file carried by a message.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

// ChatMessage is one entry in a room's message log. Identifiers are push
// keys, so their lexicographic order agrees with creation order; display
// order is nevertheless defined by the Timestamp field. UserName is a
// snapshot of the author's display name taken at send time and is not
// retroactively updated. Status, ReplyTo, EditedAt, Deleted, Reactions and
// Attachments mirror the client type surface; the synchronization layer only
// ever sets the core fields.
type ChatMessage struct {
	ID          string              `json:"id"`
	RoomID      string              `json:"roomId"`
	UserID      string              `json:"userId"`
	UserName    string              `json:"userName"`
	Text        string              `json:"text"`
	Timestamp   int64               `json:"timestamp"`
	Type        MessageType         `json:"type"`
	Status      string              `json:"status,omitempty"`
	ReplyTo     string              `json:"replyTo,omitempty"`
	EditedAt    int64               `json:"editedAt,omitempty"`
	Deleted     bool                `json:"deleted,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
}

// UserPresence is the per-user presence record, keyed by user identifier and
// overwritten wholesale on every presence-affecting action. The last writer
// wins; a second device silently replaces the first device's record.
type UserPresence struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	LastSeen    int64  `json:"lastSeen"`
	CurrentRoom string `json:"currentRoom,omitempty"`
}
