// Package model defines domain entities used by services, repositories and the delivery core.
package model

import "time"

// Tokens is an issued session credential.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// User represents an account stored on the server. The password is kept only as an Argon2id hash.
type User struct {
	ID        int64  // identity column, immutable
	Username  string // unique, lower-cased
	PwdHash   string // encoded Argon2id hash, see internal/crypto
	LastSeen  time.Time
	CreatedAt time.Time
}

// Online reports whether the user was seen within window of now.
// It is a liveness heuristic and may disagree with presence registry membership.
func (u User) Online(now time.Time, window time.Duration) bool {
	if u.LastSeen.IsZero() {
		return false
	}
	return now.Sub(u.LastSeen) < window
}

// Message is an immutable direct message. ID and CreatedAt are assigned by the store.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	CreatedAt  time.Time
}

// Conversation is a bounded window of the most recent messages between two users,
// ordered by ascending timestamp.
type Conversation struct {
	Messages   []Message
	TotalCount int64
	HasMore    bool
}

// Inbound is one message unit received on a live channel.
type Inbound struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// Profile is the public view of a user.
type Profile struct {
	ID       int64
	Username string
	Online   bool
}
