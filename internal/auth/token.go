// Package auth verifies and issues signed session credentials (HS256 JWT).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
)

// Claims is the session payload: registered claims plus the user identity.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates session tokens. It is stateless and safe for concurrent use.
type Verifier struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithLeeway tolerates clock skew when checking exp/nbf/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier constructs a Verifier for tokens signed with key.
func NewVerifier(key []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{key: key, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify returns the user identity encoded in token.
// Every failure is reported as errs.ErrUnauthorized; the wrapped reason never contains the key.
func (v *Verifier) Verify(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: no token", errs.ErrUnauthorized)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("%w: %s", errs.ErrUnauthorized, reason(err))
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("%w: no user_id in token payload", errs.ErrUnauthorized)
	}
	return claims.UserID, nil
}

// reason maps jwt parse errors to short, key-free descriptions.
func reason(err error) string {
	switch {
	case err == nil:
		return "invalid token"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing expiry"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token not valid yet"
	default:
		return "invalid token"
	}
}

// Issuer mints session tokens for authenticated users.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer constructs an Issuer signing with key; tokens live for ttl.
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl}
}

// TTL reports the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue creates a signed HS256 JWT for userID, valid from now for the issuer TTL.
func (i *Issuer) Issue(userID int64, now time.Time) (model.Tokens, error) {
	exp := now.Add(i.ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.key)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
