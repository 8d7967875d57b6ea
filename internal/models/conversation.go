package models

import (
	"strings"
	"time"
)

// ConversationType distinguishes direct (two-party) from group conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

// MemberRole is the role a user holds inside a conversation.
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r MemberRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManage reports whether the role may rename the group or manage members.
func (r MemberRole) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Conversation is a direct or group chat.
//
// DirectKey holds the canonical "<min>:<max>" pair of member ids for direct
// conversations and is NULL for groups, so the unique index only constrains
// direct rows.
type Conversation struct {
	ID            string               `gorm:"primaryKey;size:64" json:"id"`
	Type          ConversationType     `gorm:"size:16;not null;index" json:"type"`
	Title         *string              `gorm:"size:200" json:"title,omitempty"`
	DirectKey     *string              `gorm:"size:140;uniqueIndex:idx_conversations_direct_key" json:"-"`
	CreatedByID   string               `gorm:"size:64;not null" json:"createdById"`
	LastMessageAt *time.Time           `gorm:"index" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Members       []ConversationMember `gorm:"foreignKey:ConversationID" json:"members,omitempty"`
}

// IsGroup reports whether c is a group conversation.
func (c *Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

// ActivityAt is the timestamp used to order conversation lists.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ConversationMember links a user to a conversation.
type ConversationMember struct {
	ConversationID string     `gorm:"primaryKey;size:64" json:"conversationId"`
	UserID         string     `gorm:"primaryKey;size:64;index" json:"userId"`
	Role           MemberRole `gorm:"size:16;not null;default:MEMBER" json:"role"`
	Nickname       *string    `gorm:"size:120" json:"nickname,omitempty"`
	JoinedAt       time.Time  `gorm:"not null" json:"joinedAt"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
	User           *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// ReadWatermark is the instant after which messages count as unread for the member.
func (m *ConversationMember) ReadWatermark() time.Time {
	if m.LastReadAt != nil {
		return *m.LastReadAt
	}
	return m.JoinedAt
}

// DisplayName resolves the name shown for this member: nickname, then profile name.
func (m *ConversationMember) DisplayName() string {
	if m.Nickname != nil && *m.Nickname != "" {
		return *m.Nickname
	}
	if m.User != nil && m.User.Name != "" {
		return m.User.Name
	}
	return DefaultDisplayName
}

// DefaultDisplayName is used when neither a nickname nor a profile name exists.
const DefaultDisplayName = "User"

// DirectKey returns the canonical pair key for two user ids, independent of order.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// SplitDirectKey returns the two user ids encoded in a pair key.
func SplitDirectKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
