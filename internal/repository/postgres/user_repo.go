package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row; last_seen starts at now.
func (r *UserRepo) Create(ctx context.Context, username, pwdHash string, now time.Time) (model.User, error) {
	const q = `
INSERT INTO users (username, pwd_hash, last_seen)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	u := model.User{Username: username, PwdHash: pwdHash, LastSeen: now}
	err := r.db.Pool.QueryRow(ctx, q, username, pwdHash, now).Scan(&u.ID, &u.CreatedAt)
	if isUniqueViolation(err) {
		return model.User{}, errs.ErrAlreadyExists
	}
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w: %w", errs.ErrStorage, err)
	}
	return u, nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (model.User, error) {
	const q = `
SELECT id, username, pwd_hash, last_seen, created_at
FROM users WHERE id=$1`
	return r.scanOne(ctx, q, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	const q = `
SELECT id, username, pwd_hash, last_seen, created_at
FROM users WHERE username=$1`
	return r.scanOne(ctx, q, username)
}

func (r *UserRepo) scanOne(ctx context.Context, q string, arg any) (model.User, error) {
	var (
		u        model.User
		lastSeen *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(&u.ID, &u.Username, &u.PwdHash, &lastSeen, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, errs.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w: %w", errs.ErrStorage, err)
	}
	if lastSeen != nil {
		u.LastSeen = *lastSeen
	}
	return u, nil
}

// Search lists users except exclude, optionally filtered by a case-insensitive substring.
func (r *UserRepo) Search(ctx context.Context, query string, exclude int64, limit int) ([]model.User, error) {
	const q = `
SELECT id, username, last_seen
FROM users
WHERE id <> $1 AND ($2 = '' OR username ILIKE '%' || $2 || '%' ESCAPE '\')
ORDER BY username ASC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, exclude, escapeLike(strings.ToLower(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w: %w", errs.ErrStorage, err)
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		var (
			u        model.User
			lastSeen *time.Time
		)
		if err := rows.Scan(&u.ID, &u.Username, &lastSeen); err != nil {
			return nil, fmt.Errorf("search users: %w: %w", errs.ErrStorage, err)
		}
		if lastSeen != nil {
			u.LastSeen = *lastSeen
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search users: %w: %w", errs.ErrStorage, err)
	}
	return out, nil
}

// TouchLastSeen stamps last_seen. A missing user is reported as ErrNotFound.
func (r *UserRepo) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET last_seen=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("touch last_seen: %w: %w", errs.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
