// Package models contains the persisted chat entities and the application error type.
package models

import "time"

// User is the slice of the platform profile the chat layer reads.
type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:120" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	AvatarURL string    `gorm:"size:512" json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

// UserSummary is the public shape of a user embedded in chat payloads.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Summary returns the public shape of u.
func (u *User) Summary() UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
