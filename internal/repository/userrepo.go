// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/nadeko0/wschat/internal/model"
)

// UserRepository is the user directory: accounts, lookups and last-seen stamps.
type UserRepository interface {
	// Create inserts a new user and returns it with its assigned ID.
	Create(ctx context.Context, username, pwdHash string, now time.Time) (model.User, error)
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id int64) (model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (model.User, error)
	// Search lists users other than exclude whose name contains query (case-insensitive).
	// An empty query lists everyone.
	Search(ctx context.Context, query string, exclude int64, limit int) ([]model.User, error)
	// TouchLastSeen sets the user's last-seen timestamp.
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error
}
