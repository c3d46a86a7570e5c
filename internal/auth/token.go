package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest accepted signing secret, 256 bits.
const MinSecretLength = 32

var (
	ErrWeakSecret   = errors.New("jwt secret is not configured or is shorter than 32 bytes")
	ErrMalformed    = errors.New("token is malformed")
	ErrExpired      = errors.New("token is expired")
	ErrBadSignature = errors.New("token signature is invalid")
)

var signingMethod = jwt.SigningMethodHS512

type Claims struct {
	UserID    int64  `json:"userId"`
	UserEmail string `json:"userEmail"`
	jwt.RegisteredClaims
}

// TokenCodec issues and parses signed access tokens. It owns the signing key.
type TokenCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type CodecOption func(*TokenCodec)

// WithClock replaces the wall clock used for issuing and validating tokens.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

func NewTokenCodec(secret string, ttl time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token lifetime must be positive, got %s", ttl)
	}

	c := &TokenCodec{
		key: []byte(secret),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

func (c *TokenCodec) Issue(userID int64, userEmail string) (string, error) {
	const op = "auth.TokenCodec.Issue"

	now := c.now()
	claims := &Claims{
		UserID:    userID,
		UserEmail: userEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userEmail,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilToPrecision(now.Add(c.ttl))),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Parse verifies the token and returns its claims. Failures wrap exactly one
// of ErrMalformed, ErrExpired or ErrBadSignature.
func (c *TokenCodec) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}

	return claims, nil
}

// IsValidFor reports whether the token parses and was issued to expectedEmail.
func (c *TokenCodec) IsValidFor(tokenStr, expectedEmail string) bool {
	claims, err := c.Parse(tokenStr)
	if err != nil {
		return false
	}

	return claims.Subject == expectedEmail
}

// ExpiryOf returns the expiry of a token that is currently valid.
func (c *TokenCodec) ExpiryOf(tokenStr string) (time.Time, error) {
	claims, err := c.Parse(tokenStr)
	if err != nil {
		return time.Time{}, err
	}

	return claims.ExpiresAt.Time, nil
}

// ceilToPrecision rounds t up to the claim precision so that NumericDate
// truncation never shortens a lifetime or expires a token at issuance.
func ceilToPrecision(t time.Time) time.Time {
	truncated := t.Truncate(jwt.TimePrecision)
	if truncated.Equal(t) {
		return t
	}

	return truncated.Add(jwt.TimePrecision)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
