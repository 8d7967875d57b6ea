package models

import "time"

// Preview strings shown in conversation lists.
const (
	PreviewRevoked = "message revoked"
	PreviewImage   = "[Image]"
	PreviewFile    = "[File]"
)

// MemberView is a conversation member as rendered to clients.
type MemberView struct {
	UserID      string      `json:"userId"`
	Role        MemberRole  `json:"role"`
	Nickname    *string     `json:"nickname,omitempty"`
	DisplayName string      `json:"displayName"`
	JoinedAt    time.Time   `json:"joinedAt"`
	User        UserSummary `json:"user"`
}

// MessagePreview is the latest visible message of a conversation.
type MessagePreview struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Text       string      `json:"text"`
	Type       MessageType `json:"type"`
	Revoked    bool        `json:"revoked"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// ConversationSummary is one user's view of a conversation.
type ConversationSummary struct {
	ID            string           `json:"id"`
	Type          ConversationType `json:"type"`
	Title         *string          `json:"title,omitempty"`
	OtherUser     *UserSummary     `json:"otherUser,omitempty"`
	MemberCount   int              `json:"memberCount"`
	Members       []MemberView     `json:"members"`
	MyRole        MemberRole       `json:"myRole"`
	MyNickname    *string          `json:"myNickname,omitempty"`
	LastMessage   *MessagePreview  `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time       `json:"lastMessageAt,omitempty"`
	UnreadCount   int64            `json:"unreadCount"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// PreviewText renders the list preview for m.
func PreviewText(m *Message) string {
	if m.IsRevoked() {
		return PreviewRevoked
	}
	if m.Text != "" {
		return m.Text
	}
	switch m.Type {
	case MessageImage:
		return PreviewImage
	case MessageFile:
		return PreviewFile
	}
	if len(m.Attachments) > 0 {
		return PreviewFile
	}
	return ""
}
