package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/nadeko0/wschat/internal/errs"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var convCols = []string{"id", "sender_id", "receiver_id", "content", "created_at", "total"}

const convQuery = `SELECT id, sender_id, receiver_id, content, created_at, total FROM \(`

func TestMessageRepo_Append_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO messages \(sender_id, receiver_id, content\) VALUES \(\$1, \$2, \$3\) RETURNING id, created_at`).
		WithArgs(int64(1), int64(2), "hi").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), ts))

	m, err := r.Append(context.Background(), 1, 2, "hi")
	require.NoError(t, err)
	require.Equal(t, int64(10), m.ID)
	require.Equal(t, int64(1), m.SenderID)
	require.Equal(t, int64(2), m.ReceiverID)
	require.Equal(t, "hi", m.Content)
	require.True(t, ts.Equal(m.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Append_StorageError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	boom := errors.New("connection refused")
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(1), int64(2), "hi").
		WillReturnError(boom)

	m, err := r.Append(context.Background(), 1, 2, "hi")
	require.ErrorIs(t, err, errs.ErrStorage)
	require.ErrorIs(t, err, boom)
	require.Zero(t, m)
}

func TestMessageRepo_Conversation_WindowAndOrder(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// The pair is normalized to (low, high) regardless of argument order.
	mock.ExpectQuery(convQuery).
		WithArgs(int64(1), int64(2), 2).
		WillReturnRows(pgxmock.NewRows(convCols).
			AddRow(int64(4), int64(2), int64(1), "c", base.Add(3*time.Second), int64(5)).
			AddRow(int64(5), int64(1), int64(2), "d", base.Add(4*time.Second), int64(5)))

	conv, err := r.Conversation(context.Background(), 2, 1, 2)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, int64(4), conv.Messages[0].ID)
	require.Equal(t, int64(5), conv.Messages[1].ID)
	require.True(t, conv.Messages[0].CreatedAt.Before(conv.Messages[1].CreatedAt))
	require.Equal(t, int64(5), conv.TotalCount)
	require.True(t, conv.HasMore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Conversation_ExactlyLimitHasNoMore(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	now := time.Now()
	mock.ExpectQuery(convQuery).
		WithArgs(int64(1), int64(2), 2).
		WillReturnRows(pgxmock.NewRows(convCols).
			AddRow(int64(1), int64(1), int64(2), "a", now, int64(2)).
			AddRow(int64(2), int64(2), int64(1), "b", now, int64(2)))

	conv, err := r.Conversation(context.Background(), 1, 2, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), conv.TotalCount)
	require.False(t, conv.HasMore)
}

func TestMessageRepo_Conversation_Empty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	mock.ExpectQuery(convQuery).
		WithArgs(int64(3), int64(9), 100).
		WillReturnRows(pgxmock.NewRows(convCols))

	conv, err := r.Conversation(context.Background(), 3, 9, 100)
	require.NoError(t, err)
	require.NotNil(t, conv.Messages)
	require.Empty(t, conv.Messages)
	require.Zero(t, conv.TotalCount)
	require.False(t, conv.HasMore)
}

func TestMessageRepo_Conversation_Errors(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	mock.ExpectQuery(convQuery).
		WithArgs(int64(1), int64(2), 10).
		WillReturnError(errors.New("db down"))
	_, err := r.Conversation(context.Background(), 1, 2, 10)
	require.ErrorIs(t, err, errs.ErrStorage)

	mock.ExpectQuery(convQuery).
		WithArgs(int64(1), int64(2), 10).
		WillReturnRows(pgxmock.NewRows(convCols).
			AddRow(int64(1), int64(1), int64(2), "a", time.Now(), int64(1)).
			RowError(0, errors.New("row broke")))
	_, err = r.Conversation(context.Background(), 1, 2, 10)
	require.ErrorIs(t, err, errs.ErrStorage)
}

func TestMessageRepo_Conversation_RejectsNonPositiveLimit(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)

	for _, limit := range []int{0, -1} {
		c, err := r.Conversation(context.Background(), 1, 2, limit)
		require.ErrorIs(t, err, errs.ErrInvalidInput)
		require.Zero(t, c)
	}
	// No statement reaches the database.
	require.NoError(t, mock.ExpectationsWereMet())
}
