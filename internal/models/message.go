package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
	Mime   string `json:"mime,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// ThumbnailURL points at a WebP preview for image attachments.
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Attachments is stored as a JSON document column.
type Attachments []Attachment

// Value implements driver.Valuer.
func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]Attachment(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = Attachments{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported attachments column type %T", value)
	}
	if len(raw) == 0 {
		*a = Attachments{}
		return nil
	}
	var out []Attachment
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode attachments: %w", err)
	}
	*a = out
	return nil
}

// Message is a chat message. Revoked messages keep their row with text and
// attachments cleared and DeletedAt set.
type Message struct {
	ID             string      `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string      `gorm:"size:64;not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       string      `gorm:"size:64;not null;index" json:"senderId"`
	Sender         *User       `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID     *string     `gorm:"size:64;index" json:"receiverId,omitempty"`
	Text           string      `gorm:"type:text;not null;default:''" json:"text"`
	Type           MessageType `gorm:"size:16;not null;default:TEXT" json:"type"`
	Attachments    Attachments `gorm:"type:text" json:"attachments"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	DeletedAt      *time.Time  `gorm:"index" json:"deletedAt,omitempty"`
	CreatedAt      time.Time   `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`

	Reactions         []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions"`
	SenderDisplayName string            `gorm:"-" json:"senderDisplayName,omitempty"`
}

// IsRevoked reports whether the message has been revoked by its sender.
func (m *Message) IsRevoked() bool {
	return m.DeletedAt != nil
}

// MessageReaction is one user's emoji on one message.
type MessageReaction struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	MessageID string    `gorm:"size:64;not null;uniqueIndex:idx_reaction_unique,priority:1" json:"messageId"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_reaction_unique,priority:2" json:"userId"`
	Emoji     string    `gorm:"size:32;not null;uniqueIndex:idx_reaction_unique,priority:3" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageHidden suppresses one message from one viewer's history.
type MessageHidden struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"userId"`
	MessageID string    `gorm:"primaryKey;size:64;index" json:"messageId"`
	CreatedAt time.Time `json:"createdAt"`
}

// AllModels lists every chat table for migrations.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Conversation{},
		&ConversationMember{},
		&Message{},
		&MessageReaction{},
		&MessageHidden{},
	}
}
