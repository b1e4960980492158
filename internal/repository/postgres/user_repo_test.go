package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/nadeko0/wschat/internal/errs"
)

var userCols = []string{"id", "username", "pwd_hash", "last_seen", "created_at"}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO users \(username, pwd_hash, last_seen\) VALUES \(\$1, \$2, \$3\) RETURNING id, created_at`).
		WithArgs("alice", "hash", now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))
	u, err := r.Create(ctx, "alice", "hash", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), u.ID)
	require.Equal(t, "alice", u.Username)
	require.True(t, now.Equal(u.LastSeen))

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "hash", now).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err = r.Create(ctx, "alice", "hash", now)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("bob", "hash", now).
		WillReturnError(errors.New("db down"))
	_, err = r.Create(ctx, "bob", "hash", now)
	require.ErrorIs(t, err, errs.ErrStorage)
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	seen := time.Date(2026, 2, 2, 1, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, username, pwd_hash, last_seen, created_at FROM users WHERE id=\$1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(int64(7), "u", "h", &seen, seen))
	u, err := r.GetByID(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), u.ID)
	require.True(t, seen.Equal(u.LastSeen))

	mock.ExpectQuery(`SELECT id, username, pwd_hash, last_seen, created_at FROM users WHERE id=\$1`).
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(int64(8), "v", "h", nil, seen))
	u, err = r.GetByID(ctx, 8)
	require.NoError(t, err)
	require.True(t, u.LastSeen.IsZero())

	mock.ExpectQuery(`SELECT id, username, pwd_hash, last_seen, created_at FROM users WHERE id=\$1`).
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, 9)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT id, username, pwd_hash, last_seen, created_at FROM users WHERE id=\$1`).
		WithArgs(int64(9)).
		WillReturnError(context.Canceled)
	_, err = r.GetByID(ctx, 9)
	require.ErrorIs(t, err, errs.ErrStorage)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, pwd_hash, last_seen, created_at FROM users WHERE username=\$1`).
		WithArgs("u2").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(int64(2), "u2", "h", &now, now))
	u, err := r.GetByUsername(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "u2", u.Username)
	require.Equal(t, "h", u.PwdHash)

	mock.ExpectQuery(`SELECT id, username, pwd_hash, last_seen, created_at FROM users WHERE username=\$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_Search(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, last_seen FROM users WHERE id <> \$1`).
		WithArgs(int64(1), `al\%`, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "last_seen"}).
			AddRow(int64(2), "al%ice", &now).
			AddRow(int64(3), "al%an", nil))
	us, err := r.Search(ctx, "AL%", 1, 50)
	require.NoError(t, err)
	require.Len(t, us, 2)
	require.Equal(t, "al%ice", us[0].Username)
	require.True(t, us[1].LastSeen.IsZero())

	mock.ExpectQuery(`SELECT id, username, last_seen FROM users WHERE id <> \$1`).
		WithArgs(int64(1), "", 50).
		WillReturnError(errors.New("db down"))
	_, err = r.Search(ctx, "", 1, 50)
	require.ErrorIs(t, err, errs.ErrStorage)
}

func TestUserRepo_TouchLastSeen(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(`UPDATE users SET last_seen=\$2 WHERE id=\$1`).
		WithArgs(int64(1), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.TouchLastSeen(ctx, 1, now))

	mock.ExpectExec(`UPDATE users SET last_seen=\$2 WHERE id=\$1`).
		WithArgs(int64(2), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.TouchLastSeen(ctx, 2, now), errs.ErrNotFound)

	mock.ExpectExec(`UPDATE users SET last_seen=\$2 WHERE id=\$1`).
		WithArgs(int64(3), now).
		WillReturnError(errors.New("boom"))
	require.ErrorIs(t, r.TouchLastSeen(ctx, 3, now), errs.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	db := &DB{Pool: mock}

	mock.ExpectPing()
	require.NoError(t, db.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.Error(t, db.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
