package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx pool the limiter needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is a PostgreSQL-backed login limiter keyed by (username, ip hash).
type PG struct {
	q      Querier
	policy Policy
	now    func() time.Time
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, p Policy) *PG {
	return &PG{q: q, policy: p, now: time.Now}
}

// Allow reports whether a login attempt may proceed.
func (l *PG) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.q.QueryRow(ctx, q, username, ipHash).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, fmt.Errorf("limiter allow: %w", err)
	}
	if left := blockedUntil.Sub(l.now()); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

// Success clears the failure counter and any block.
func (l *PG) Success(ctx context.Context, username string, ipHash []byte) error {
	const q = `DELETE FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	if _, err := l.q.Exec(ctx, q, username, ipHash); err != nil {
		return fmt.Errorf("limiter success: %w", err)
	}
	return nil
}

// Failure counts a failed attempt in one upsert. Failures older than the window restart
// the count; reaching MaxFails sets blocked_until.
func (l *PG) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter AS l (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN 1 >= $4::int THEN $3::timestamptz + $5::interval ELSE 'epoch'::timestamptz END, $3::timestamptz)
ON CONFLICT (username, ip_hash) DO UPDATE
SET fail_count = CASE WHEN $3::timestamptz - l.updated_at > $6::interval THEN 1 ELSE l.fail_count + 1 END,
    blocked_until = CASE
        WHEN (CASE WHEN $3 - l.updated_at > $6::interval THEN 1 ELSE l.fail_count + 1 END) >= $4
        THEN $3 + $5::interval
        ELSE l.blocked_until
    END,
    updated_at = $3
RETURNING fail_count, blocked_until`
	now := l.now()
	var (
		fails        int
		blockedUntil time.Time
	)
	err := l.q.QueryRow(ctx, q, username, ipHash, now, l.policy.MaxFails, l.policy.BlockFor, l.policy.Window).
		Scan(&fails, &blockedUntil)
	if err != nil {
		return false, 0, fmt.Errorf("limiter failure: %w", err)
	}
	if fails >= l.policy.MaxFails && blockedUntil.After(now) {
		return true, blockedUntil.Sub(now), nil
	}
	return false, 0, nil
}
