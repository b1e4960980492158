package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
	"github.com/nadeko0/wschat/internal/repository"
)

// DefaultOnlineWindow is how recently a user must have been seen to count as online.
const DefaultOnlineWindow = 30 * time.Second

const searchLimit = 100

// UserService defines directory lookups for signed-in users.
type UserService interface {
	// Get returns one user's profile.
	Get(ctx context.Context, id int64) (model.Profile, error)
	// Search lists users other than caller. A numeric query matches by ID,
	// anything else is a case-insensitive substring of the username.
	Search(ctx context.Context, caller int64, query string) ([]model.Profile, error)
}

type UserServiceImpl struct {
	users  repository.UserRepository
	window time.Duration
	now    func() time.Time
}

// NewUserService constructs UserService; window <= 0 selects DefaultOnlineWindow.
func NewUserService(users repository.UserRepository, window time.Duration) *UserServiceImpl {
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	return &UserServiceImpl{users: users, window: window, now: func() time.Time { return time.Now().UTC() }}
}

func (s *UserServiceImpl) profile(u model.User) model.Profile {
	return model.Profile{ID: u.ID, Username: u.Username, Online: u.Online(s.now(), s.window)}
}

// Get loads a user by ID.
func (s *UserServiceImpl) Get(ctx context.Context, id int64) (model.Profile, error) {
	if id <= 0 {
		return model.Profile{}, fmt.Errorf("%w: user id", errs.ErrInvalidInput)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.Profile{}, err
	}
	return s.profile(u), nil
}

// Search never returns the caller.
func (s *UserServiceImpl) Search(ctx context.Context, caller int64, query string) ([]model.Profile, error) {
	query = strings.TrimSpace(query)
	out := []model.Profile{}

	if id, err := strconv.ParseInt(query, 10, 64); err == nil && query[0] != '-' && query[0] != '+' {
		if id == caller {
			return out, nil
		}
		u, err := s.users.GetByID(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		return append(out, s.profile(u)), nil
	}

	users, err := s.users.Search(ctx, query, caller, searchLimit)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out = append(out, s.profile(u))
	}
	return out, nil
}
