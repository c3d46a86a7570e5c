package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finance_service/internal/models"
	"finance_service/internal/storage"
)

var (
	// ErrUnauthenticated means no bearer token was presented.
	ErrUnauthenticated = errors.New("no bearer token")
	ErrTokenRevoked    = errors.New("token is revoked")
	ErrTokenInvalid    = errors.New("token is invalid")
	// ErrUserUnavailable means the token is sound but its account is gone or soft-deleted.
	ErrUserUnavailable = errors.New("user is unavailable")
)

type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type UserFinder interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Resolver decides who is making a request from its bearer token.
type Resolver struct {
	codec       *TokenCodec
	revocations RevocationChecker
	users       UserFinder
	log         *slog.Logger
}

func NewResolver(codec *TokenCodec, revocations RevocationChecker, users UserFinder, lgr *slog.Logger) *Resolver {
	return &Resolver{
		codec:       codec,
		revocations: revocations,
		users:       users,
		log:         lgr,
	}
}

// Resolve checks, in order: presence, revocation, signature and expiry, then
// the account behind the subject. The first failing check decides the error.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	const op = "auth.Resolver.Resolve"

	log := r.log.With(slog.String("op", op))

	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	revoked, err := r.revocations.IsRevoked(ctx, token)
	if err != nil {
		log.Error("failed to check token revocation", slog.Any("error", err))

		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		log.Warn("revoked token presented")

		return Identity{}, ErrTokenRevoked
	}

	claims, err := r.codec.Parse(token)
	if err != nil {
		log.Warn("token rejected", slog.String("reason", FailureReason(err)), slog.Any("error", err))

		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.UserEmail != "" && claims.UserEmail != claims.Subject {
		log.Warn("token subject does not match email claim", slog.String("subject", claims.Subject))

		return Identity{}, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}

	user, err := r.users.GetUserByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token subject has no account", slog.String("email", claims.Subject))

			return Identity{}, ErrUserUnavailable
		}
		log.Error("failed to look up token subject", slog.String("email", claims.Subject), slog.Any("error", err))

		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	if user.IsDeleted {
		log.Warn("token subject account is deleted", slog.Int64("user_id", user.ID))

		return Identity{}, ErrUserUnavailable
	}

	return Identity{
		UserID: claims.UserID,
		Email:  claims.Subject,
		Token:  token,
	}, nil
}

// FailureReason names a codec failure for operator logs.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}
