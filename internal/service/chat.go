package service

import (
	"context"
	"fmt"

	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
	"github.com/nadeko0/wschat/internal/repository"
)

// Conversation window bounds.
const (
	DefaultConversationLimit = 100
	MaxConversationLimit     = 1000
)

// ChatService defines read access to stored conversations.
type ChatService interface {
	// Conversation returns the most recent messages between userID and otherID.
	Conversation(ctx context.Context, userID, otherID int64, limit int) (model.Conversation, error)
}

type ChatServiceImpl struct {
	messages repository.MessageRepository
}

// NewChatService constructs ChatService.
func NewChatService(messages repository.MessageRepository) *ChatServiceImpl {
	return &ChatServiceImpl{messages: messages}
}

// Conversation validates the window and reads it from storage. Limits above
// MaxConversationLimit are clamped.
func (s *ChatServiceImpl) Conversation(ctx context.Context, userID, otherID int64, limit int) (model.Conversation, error) {
	if userID <= 0 || otherID <= 0 {
		return model.Conversation{}, fmt.Errorf("%w: user id", errs.ErrInvalidInput)
	}
	if limit <= 0 {
		return model.Conversation{}, fmt.Errorf("%w: limit must be positive", errs.ErrInvalidInput)
	}
	if limit > MaxConversationLimit {
		limit = MaxConversationLimit
	}
	return s.messages.Conversation(ctx, userID, otherID, limit)
}
