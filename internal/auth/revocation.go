package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finance_service/internal/models"

	"github.com/gofrs/uuid"
)

type RevocationRepository interface {
	CreateRevokedToken(ctx context.Context, token models.RevokedToken) error
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
	DeleteRevokedTokensExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// RevocationStore records access tokens that were invalidated before expiry.
type RevocationStore struct {
	repo  RevocationRepository
	codec *TokenCodec
	now   func() time.Time
}

func NewRevocationStore(repo RevocationRepository, codec *TokenCodec) *RevocationStore {
	return &RevocationStore{
		repo:  repo,
		codec: codec,
		now:   time.Now,
	}
}

// Revoke blacklists token for userID. Revoking an already revoked or already
// expired token is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, token string, userID int64) error {
	const op = "auth.RevocationStore.Revoke"

	expiresAt, err := s.codec.ExpiryOf(token)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := s.repo.IsTokenRevoked(ctx, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		return nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	record := models.RevokedToken{
		ID:        id,
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		RevokedAt: s.now().UTC(),
	}
	if err := s.repo.CreateRevokedToken(ctx, record); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	const op = "auth.RevocationStore.IsRevoked"

	if token == "" {
		return false, nil
	}

	revoked, err := s.repo.IsTokenRevoked(ctx, token)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return revoked, nil
}

// PurgeExpired deletes records whose token expired before now.
func (s *RevocationStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "auth.RevocationStore.PurgeExpired"

	n, err := s.repo.DeleteRevokedTokensExpiredBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
