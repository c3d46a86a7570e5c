package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"finance_service/internal/auth"
	"finance_service/internal/models"
	"finance_service/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = errors.New("current password does not match")
)

type Service interface {
	CreateUser(ctx context.Context, name, email, password string) (models.User, error)
	Login(ctx context.Context, email, password string) (string, models.User, error)
	GetUserByID(ctx context.Context, userID int64) (models.User, error)
	UpdateProfile(ctx context.Context, userID int64, name string) (models.User, error)
	UpdatePassword(ctx context.Context, userID int64, currentPassword, newPassword string) (models.User, error)
	DeleteUser(ctx context.Context, userID int64, token string) (models.User, error)
	Logout(ctx context.Context, identity *auth.Identity) error
}

type service struct {
	storage     storage.Storage
	codec       *auth.TokenCodec
	revocations *auth.RevocationStore
	log         *slog.Logger
}

func NewService(st storage.Storage, codec *auth.TokenCodec, revocations *auth.RevocationStore, lgr *slog.Logger) *service {
	return &service{
		storage:     st,
		codec:       codec,
		revocations: revocations,
		log:         lgr,
	}
}

func (s *service) CreateUser(ctx context.Context, name, email, password string) (models.User, error) {
	const op = "service.CreateUser"

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.storage.CreateUser(ctx, name, email, passwordHash)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.GetUserByID(ctx, id)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, models.User, error) {
	const op = "service.Login"

	userCredentials, err := s.storage.GetCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if userCredentials.IsDeleted {
		return "", models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if ok := auth.CheckPasswordHash(userCredentials.PasswordHash, password); !ok {
		return "", models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.GetUserByID(ctx, userCredentials.UserID)
	if err != nil {
		return "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	jwtToken, err := s.codec.Issue(user.ID, user.Email)
	if err != nil {
		return "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return jwtToken, user, nil
}

func (s *service) GetUserByID(ctx context.Context, userID int64) (models.User, error) {
	const op = "service.GetUserByID"

	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UpdateProfile changes the display name; a blank name leaves it untouched.
func (s *service) UpdateProfile(ctx context.Context, userID int64, name string) (models.User, error) {
	const op = "service.UpdateProfile"

	if name = strings.TrimSpace(name); name != "" {
		if err := s.storage.UpdateUserName(ctx, userID, name); err != nil {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *service) UpdatePassword(ctx context.Context, userID int64, currentPassword, newPassword string) (models.User, error) {
	const op = "service.UpdatePassword"

	cred, err := s.storage.GetCredentialsByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	if cred.IsDeleted {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	if ok := auth.CheckPasswordHash(cred.PasswordHash, currentPassword); !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrWrongPassword)
	}

	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// DeleteUser soft-deletes the account and then revokes the token that asked for it.
// A failed revocation is logged only; the account is already unusable.
func (s *service) DeleteUser(ctx context.Context, userID int64, token string) (models.User, error) {
	const op = "service.DeleteUser"

	log := s.log.With(slog.String("op", op))

	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.SoftDeleteUser(ctx, userID); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	user.IsDeleted = true

	if token != "" {
		if err := s.revocations.Revoke(ctx, token, userID); err != nil {
			log.Error("failed to revoke token after account deletion", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}

	return user, nil
}

// Logout revokes the caller's current token. Anonymous callers have nothing to revoke.
func (s *service) Logout(ctx context.Context, identity *auth.Identity) error {
	const op = "service.Logout"

	if identity == nil || identity.Token == "" {
		return nil
	}

	if err := s.revocations.Revoke(ctx, identity.Token, identity.UserID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
