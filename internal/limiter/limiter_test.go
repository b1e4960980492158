package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeQuerier struct {
	qrErr        error
	blockedUntil time.Time
	failsRet     int

	lastExecSQL string
	lastArgs    []any
	execErr     error
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastArgs = args
	switch {
	case strings.Contains(sql, "SELECT blocked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*time.Time)) = f.blockedUntil
			return nil
		}}
	case strings.Contains(sql, "RETURNING fail_count, blocked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*int)) = f.failsRet
			*(dest[1].(*time.Time)) = f.blockedUntil
			return nil
		}}
	default:
		return fakeRow{scan: func(dest ...any) error { return errors.New("unexpected query") }}
	}
}

var (
	fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	policy   = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 10 * time.Minute}
)

func newTestPG(f *fakeQuerier) *PG {
	l := NewPG(f, policy)
	l.now = func() time.Time { return fixedNow }
	return l
}

func TestAllow_NoRow_Allows(t *testing.T) {
	l := newTestPG(&fakeQuerier{qrErr: pgx.ErrNoRows})
	ok, dur, err := l.Allow(context.Background(), "u", []byte("h"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow no-row: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_BlockedUntilFuture(t *testing.T) {
	l := newTestPG(&fakeQuerier{blockedUntil: fixedNow.Add(3 * time.Minute)})
	ok, dur, err := l.Allow(context.Background(), "u", []byte("h"))
	if err != nil || ok || dur != 3*time.Minute {
		t.Fatalf("Allow blocked: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_PastBlock_Allows(t *testing.T) {
	l := newTestPG(&fakeQuerier{blockedUntil: fixedNow.Add(-time.Second)})
	ok, dur, err := l.Allow(context.Background(), "u", []byte("h"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow past: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_DBError_Propagates(t *testing.T) {
	boom := errors.New("db boom")
	l := newTestPG(&fakeQuerier{qrErr: boom})
	ok, _, err := l.Allow(context.Background(), "u", []byte("h"))
	if !errors.Is(err, boom) || ok {
		t.Fatalf("want error propagate, got ok=%v err=%v", ok, err)
	}
}

func TestSuccess(t *testing.T) {
	f := &fakeQuerier{}
	l := newTestPG(f)
	if err := l.Success(context.Background(), "u", []byte("h")); err != nil {
		t.Fatalf("success err: %v", err)
	}
	if !strings.Contains(f.lastExecSQL, "DELETE FROM auth_limiter") {
		t.Fatalf("unexpected exec: %s", f.lastExecSQL)
	}

	f.execErr = errors.New("exec fail")
	if err := l.Success(context.Background(), "u", []byte("h")); err == nil {
		t.Fatalf("want exec error")
	}
}

func TestFailure_BelowThreshold(t *testing.T) {
	f := &fakeQuerier{failsRet: 2}
	l := newTestPG(f)
	blocked, dur, err := l.Failure(context.Background(), "u", []byte("h"))
	if err != nil || blocked || dur != 0 {
		t.Fatalf("Failure no block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if len(f.lastArgs) != 6 || f.lastArgs[2] != fixedNow || f.lastArgs[3] != policy.MaxFails {
		t.Fatalf("unexpected args: %v", f.lastArgs)
	}
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	l := newTestPG(&fakeQuerier{failsRet: 5, blockedUntil: fixedNow.Add(policy.BlockFor)})
	blocked, dur, err := l.Failure(context.Background(), "u", []byte("h"))
	if err != nil || !blocked || dur != policy.BlockFor {
		t.Fatalf("Failure block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
}

func TestFailure_DBError(t *testing.T) {
	l := newTestPG(&fakeQuerier{qrErr: errors.New("query error")})
	if _, _, err := l.Failure(context.Background(), "u", []byte("h")); err == nil {
		t.Fatalf("want error from upsert")
	}
}

func TestHashIP_Determinism(t *testing.T) {
	a := HashIP("1.2.3.4")
	b := HashIP("1.2.3.4")
	c := HashIP("5.6.7.8")
	if string(a) != string(b) || string(a) == string(c) || len(a) != 32 {
		t.Fatalf("hash mismatch/len: %d", len(a))
	}
}

func TestThrottle_AllowBurstThenDeny(t *testing.T) {
	th := NewThrottle(1, 2, time.Minute)
	now := fixedNow
	if !th.Allow("a", now) || !th.Allow("a", now) {
		t.Fatalf("burst of 2 must pass")
	}
	if th.Allow("a", now) {
		t.Fatalf("third event in the same instant must be denied")
	}
	if !th.Allow("b", now) {
		t.Fatalf("keys are independent")
	}
	if !th.Allow("a", now.Add(time.Second)) {
		t.Fatalf("bucket must refill after 1s")
	}
}

func TestThrottle_Sweep(t *testing.T) {
	th := NewThrottle(10, 10, time.Minute)
	th.Allow("old", fixedNow)
	th.Allow("new", fixedNow.Add(2*time.Minute))
	if n := th.Sweep(fixedNow.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if th.Len() != 1 {
		t.Fatalf("Len=%d, want 1", th.Len())
	}
}
