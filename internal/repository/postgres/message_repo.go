package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Append inserts one message in a single statement; id and created_at come from the database.
func (r *MessageRepo) Append(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error) {
	const q = `
INSERT INTO messages (sender_id, receiver_id, content)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	m := model.Message{SenderID: senderID, ReceiverID: receiverID, Content: content}
	if err := r.db.Pool.QueryRow(ctx, q, senderID, receiverID, content).Scan(&m.ID, &m.CreatedAt); err != nil {
		return model.Message{}, fmt.Errorf("append message: %w: %w", errs.ErrStorage, err)
	}
	return m, nil
}

// Conversation reads the most recent limit messages of the unordered pair {a, b} and the
// total count in one statement, so both come from the same snapshot. limit must be positive.
func (r *MessageRepo) Conversation(ctx context.Context, a, b int64, limit int) (model.Conversation, error) {
	const q = `
SELECT id, sender_id, receiver_id, content, created_at, total
FROM (
    SELECT id, sender_id, receiver_id, content, created_at, count(*) OVER () AS total
    FROM messages
    WHERE LEAST(sender_id, receiver_id) = $1 AND GREATEST(sender_id, receiver_id) = $2
    ORDER BY created_at DESC, id DESC
    LIMIT $3
) recent
ORDER BY created_at ASC, id ASC`
	if limit <= 0 {
		return model.Conversation{}, fmt.Errorf("conversation limit %d: %w", limit, errs.ErrInvalidInput)
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	rows, err := r.db.Pool.Query(ctx, q, lo, hi, limit)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("conversation: %w: %w", errs.ErrStorage, err)
	}
	defer rows.Close()

	conv := model.Conversation{Messages: make([]model.Message, 0, min(limit, 128))}
	for rows.Next() {
		var (
			m     model.Message
			ts    time.Time
			total int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &ts, &total); err != nil {
			return model.Conversation{}, fmt.Errorf("conversation: %w: %w", errs.ErrStorage, err)
		}
		m.CreatedAt = ts
		conv.Messages = append(conv.Messages, m)
		conv.TotalCount = total
	}
	if err := rows.Err(); err != nil {
		return model.Conversation{}, fmt.Errorf("conversation: %w: %w", errs.ErrStorage, err)
	}
	conv.HasMore = conv.TotalCount > int64(limit)
	return conv, nil
}
