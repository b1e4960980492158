// Package service contains application services for accounts, user lookup and conversations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nadeko0/wschat/internal/auth"
	pkgcrypto "github.com/nadeko0/wschat/internal/crypto"
	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/limiter"
	"github.com/nadeko0/wschat/internal/model"
	"github.com/nadeko0/wschat/internal/repository"
)

const maxUsernameLen = 64

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a new user and signs them in.
	Register(ctx context.Context, username, password string) (model.Tokens, model.User, error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	// CheckSession resolves a session token to its user.
	CheckSession(ctx context.Context, token string) (model.User, error)
	// Logout stamps last-seen and drops the user's live channel.
	Logout(ctx context.Context, userID int64) error
}

// TokenVerifier resolves a session token to a user identity.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Disconnector ends a user's live channel.
type Disconnector interface {
	Disconnect(userID int64) bool
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	issuer   *auth.Issuer
	verifier TokenVerifier
	lim      limiter.Limiter
	live     Disconnector
	now      func() time.Time
}

// NewAuthService constructs AuthService with required dependencies. live may be nil.
func NewAuthService(users repository.UserRepository, issuer *auth.Issuer, verifier TokenVerifier, lim limiter.Limiter, live Disconnector) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:    users,
		issuer:   issuer,
		verifier: verifier,
		lim:      lim,
		live:     live,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register creates a user record with an Argon2id password hash and issues a session.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (model.Tokens, model.User, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return model.Tokens{}, model.User{}, fmt.Errorf("%w: empty username/password", errs.ErrInvalidInput)
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return model.Tokens{}, model.User{}, fmt.Errorf("%w: username longer than %d", errs.ErrInvalidInput, maxUsernameLen)
	}
	pwdHash, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	u, err := s.users.Create(ctx, username, pwdHash, s.now())
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	tok, err := s.issuer.Issue(u.ID, s.now())
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, u, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	username = NormalizeUsername(username)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	ok := false
	if err == nil {
		ok, err = pkgcrypto.VerifyPassword(password, u.PwdHash)
		if err != nil {
			return model.Tokens{}, model.User{}, err
		}
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, username, ipHash)
	_ = s.users.TouchLastSeen(ctx, u.ID, s.now())

	tok, err := s.issuer.Issue(u.ID, s.now())
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, u, nil
}

// CheckSession verifies token and loads its user. A valid token for a deleted user is unauthorized.
func (s *AuthServiceImpl) CheckSession(ctx context.Context, token string) (model.User, error) {
	id, err := s.verifier.Verify(token)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.User{}, fmt.Errorf("%w: user not found", errs.ErrUnauthorized)
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Logout stamps last-seen and closes the user's live channel, if any.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id", errs.ErrInvalidInput)
	}
	if s.live != nil {
		s.live.Disconnect(userID)
	}
	return s.users.TouchLastSeen(ctx, userID, s.now())
}
