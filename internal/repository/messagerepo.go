package repository

import (
	"context"

	"github.com/nadeko0/wschat/internal/model"
)

// MessageRepository is the durable append-only message log.
type MessageRepository interface {
	// Append stores a new message and returns it with store-assigned ID and timestamp.
	// A failed append leaves no partial record.
	Append(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error)

	// Conversation returns up to limit most recent messages exchanged between a and b in
	// either direction, ordered by ascending timestamp, with the total matching count.
	Conversation(ctx context.Context, a, b int64, limit int) (model.Conversation, error)
}
