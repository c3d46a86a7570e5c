package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finance_service/internal/models"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	usersTable          = "users"
	tokenBlacklistTable = "token_blacklist"

	uniqueViolation = "23505"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already registered")
)

type Storage interface {
	// Users
	CreateUser(ctx context.Context, name, email, passwordHash string) (userID int64, err error)
	GetUserByID(ctx context.Context, userID int64) (models.User, error)
	// GetUserByEmail also returns soft-deleted users; callers check IsDeleted.
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetCredentialsByEmail(ctx context.Context, email string) (models.Credentials, error)
	GetCredentialsByID(ctx context.Context, userID int64) (models.Credentials, error)
	UpdateUserName(ctx context.Context, userID int64, name string) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	SoftDeleteUser(ctx context.Context, userID int64) error

	// Revoked access tokens
	CreateRevokedToken(ctx context.Context, token models.RevokedToken) error
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
	DeleteRevokedTokensExpiredBefore(ctx context.Context, before time.Time) (int64, error)

	Close()
}

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, DbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	cfg, err := pgxpool.ParseConfig(DbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	conn, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db: conn,
	}, nil
}

func (p *PostgresStorage) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	const op = "storage.CreateUser"

	var userID int64
	query := fmt.Sprintf(`INSERT INTO %s(user_name, user_email, user_password)
	VALUES ($1, $2, $3) RETURNING user_id;`, usersTable)

	err := p.db.QueryRow(ctx, query, name, email, passwordHash).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return userID, nil
}

func (p *PostgresStorage) GetUserByID(ctx context.Context, userID int64) (models.User, error) {
	const op = "storage.GetUserByID"

	var user models.User
	query := fmt.Sprintf(`SELECT user_id, user_name, user_email, is_deleted, created_at
	FROM %s WHERE user_id=$1 AND is_deleted=FALSE;`, usersTable)

	err := p.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Name, &user.Email, &user.IsDeleted, &user.CreatedAt)
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, notFound(err))
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	var user models.User
	query := fmt.Sprintf(`SELECT user_id, user_name, user_email, is_deleted, created_at
	FROM %s WHERE user_email=$1;`, usersTable)

	err := p.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Name, &user.Email, &user.IsDeleted, &user.CreatedAt)
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, notFound(err))
	}

	return user, nil
}

func (p *PostgresStorage) GetCredentialsByEmail(ctx context.Context, email string) (models.Credentials, error) {
	const op = "storage.GetCredentialsByEmail"

	var cred models.Credentials
	query := fmt.Sprintf("SELECT user_id, user_password, is_deleted FROM %s WHERE user_email=$1", usersTable)

	err := p.db.QueryRow(ctx, query, email).Scan(&cred.UserID, &cred.PasswordHash, &cred.IsDeleted)
	if err != nil {
		return cred, fmt.Errorf("%s: %w", op, notFound(err))
	}

	return cred, nil
}

func (p *PostgresStorage) GetCredentialsByID(ctx context.Context, userID int64) (models.Credentials, error) {
	const op = "storage.GetCredentialsByID"

	var cred models.Credentials
	query := fmt.Sprintf("SELECT user_id, user_password, is_deleted FROM %s WHERE user_id=$1", usersTable)

	err := p.db.QueryRow(ctx, query, userID).Scan(&cred.UserID, &cred.PasswordHash, &cred.IsDeleted)
	if err != nil {
		return cred, fmt.Errorf("%s: %w", op, notFound(err))
	}

	return cred, nil
}

func (p *PostgresStorage) UpdateUserName(ctx context.Context, userID int64, name string) error {
	const op = "storage.UpdateUserName"

	query := fmt.Sprintf("UPDATE %s SET user_name=$1 WHERE user_id=$2 AND is_deleted=FALSE", usersTable)

	return p.execAffectingUser(ctx, op, query, name, userID)
}

func (p *PostgresStorage) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	const op = "storage.UpdatePassword"

	query := fmt.Sprintf("UPDATE %s SET user_password=$1 WHERE user_id=$2 AND is_deleted=FALSE", usersTable)

	return p.execAffectingUser(ctx, op, query, passwordHash, userID)
}

func (p *PostgresStorage) SoftDeleteUser(ctx context.Context, userID int64) error {
	const op = "storage.SoftDeleteUser"

	query := fmt.Sprintf("UPDATE %s SET is_deleted=TRUE WHERE user_id=$1 AND is_deleted=FALSE", usersTable)

	return p.execAffectingUser(ctx, op, query, userID)
}

func (p *PostgresStorage) execAffectingUser(ctx context.Context, op, query string, args ...interface{}) error {
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}

	return nil
}

func (p *PostgresStorage) CreateRevokedToken(ctx context.Context, token models.RevokedToken) error {
	const op = "storage.CreateRevokedToken"

	query := fmt.Sprintf(`INSERT INTO %s(id, token, user_id, expiry_date, blacklisted_at)
	VALUES ($1, $2, $3, $4, $5)`, tokenBlacklistTable)

	_, err := p.db.Exec(ctx, query, token.ID, token.Token, token.UserID, token.ExpiresAt, token.RevokedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	const op = "storage.IsTokenRevoked"

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE token=$1)", tokenBlacklistTable)

	if err := p.db.QueryRow(ctx, query, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

func (p *PostgresStorage) DeleteRevokedTokensExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.DeleteRevokedTokensExpiredBefore"

	query := fmt.Sprintf("DELETE FROM %s WHERE expiry_date < $1", tokenBlacklistTable)

	tag, err := p.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (p *PostgresStorage) Close() {
	p.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	return err
}
