// Package convert maps domain types to the JSON shapes served over HTTP.
package convert

import (
	"time"

	model "github.com/nadeko0/wschat/internal/model"
)

// --- users ---

// UserDTO is returned by register, login and check-session.
type UserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ProfileDTO is returned by user lookups.
type ProfileDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Credentials is the register/login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ToUserDTO converts a domain user.
func ToUserDTO(u model.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username}
}

// ToProfileDTO converts a domain profile.
func ToProfileDTO(p model.Profile) ProfileDTO {
	return ProfileDTO{ID: p.ID, Username: p.Username, Online: p.Online}
}

// ToProfileDTOs never returns nil so an empty result encodes as [].
func ToProfileDTOs(ps []model.Profile) []ProfileDTO {
	out := make([]ProfileDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, ToProfileDTO(p))
	}
	return out
}

// --- messages ---

// MessageDTO is one stored message.
type MessageDTO struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationDTO is the message history window between two users.
type ConversationDTO struct {
	Messages   []MessageDTO `json:"messages"`
	TotalCount int64        `json:"total_count"`
	HasMore    bool         `json:"has_more"`
}

// ToMessageDTO converts a domain message. Timestamps are rendered in UTC.
func ToMessageDTO(m model.Message) MessageDTO {
	return MessageDTO{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.CreatedAt.UTC(),
	}
}

// ToConversationDTO converts a conversation window.
func ToConversationDTO(c model.Conversation) ConversationDTO {
	out := ConversationDTO{
		Messages:   make([]MessageDTO, 0, len(c.Messages)),
		TotalCount: c.TotalCount,
		HasMore:    c.HasMore,
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, ToMessageDTO(m))
	}
	return out
}
