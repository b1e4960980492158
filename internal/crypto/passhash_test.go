package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestRandBytes(t *testing.T) {
	t.Parallel()

	b1, err := RandBytes(16)
	if err != nil {
		t.Fatalf("RandBytes error: %v", err)
	}
	if len(b1) != 16 {
		t.Fatalf("want len=16, got %d", len(b1))
	}
	b2, _ := RandBytes(16)
	if string(b1) == string(b2) {
		t.Fatalf("two random slices are equal (extremely unlikely)")
	}
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	enc, err := HashPassword("s3cr3t")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=65536,t=3,p=1$") {
		t.Fatalf("unexpected encoding: %s", enc)
	}

	ok, err := VerifyPassword("s3cr3t", enc)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword correct: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong", enc)
	if err != nil || ok {
		t.Fatalf("VerifyPassword wrong: ok=%v err=%v", ok, err)
	}

	enc2, _ := HashPassword("s3cr3t")
	if enc == enc2 {
		t.Fatalf("salts must differ between hashes")
	}
}

func TestVerify_MalformedHashes(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$garbage$c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdA$",
	} {
		if ok, err := VerifyPassword("x", bad); ok || !errors.Is(err, ErrBadHash) {
			t.Fatalf("%q: want ErrBadHash, got ok=%v err=%v", bad, ok, err)
		}
	}
}
