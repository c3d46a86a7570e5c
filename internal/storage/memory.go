package storage

import (
	"context"
	"sync"
	"time"

	"finance_service/internal/models"
)

// MemoryStorage keeps everything in process memory. It backs local runs with
// db.driver=memory and the test suites.
type MemoryStorage struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]models.User
	byEmail map[string]int64
	revoked map[string][]models.RevokedToken
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:   make(map[int64]models.User),
		byEmail: make(map[string]int64),
		revoked: make(map[string][]models.RevokedToken),
		now:     time.Now,
	}
}

func (m *MemoryStorage) CreateUser(_ context.Context, name, email, passwordHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return 0, ErrEmailTaken
	}

	m.nextID++
	m.users[m.nextID] = models.User{
		ID:        m.nextID,
		Name:      name,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: m.now().UTC(),
	}
	m.byEmail[email] = m.nextID

	return m.nextID, nil
}

func (m *MemoryStorage) GetUserByID(_ context.Context, userID int64) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok || user.IsDeleted {
		return models.User{}, ErrUserNotFound
	}

	return redact(user), nil
}

func (m *MemoryStorage) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	return redact(m.users[id]), nil
}

func (m *MemoryStorage) GetCredentialsByEmail(_ context.Context, email string) (models.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return models.Credentials{}, ErrUserNotFound
	}

	return credentials(m.users[id]), nil
}

func (m *MemoryStorage) GetCredentialsByID(_ context.Context, userID int64) (models.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return models.Credentials{}, ErrUserNotFound
	}

	return credentials(user), nil
}

func (m *MemoryStorage) UpdateUserName(_ context.Context, userID int64, name string) error {
	return m.updateActive(userID, func(u *models.User) { u.Name = name })
}

func (m *MemoryStorage) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	return m.updateActive(userID, func(u *models.User) { u.Password = passwordHash })
}

func (m *MemoryStorage) SoftDeleteUser(_ context.Context, userID int64) error {
	return m.updateActive(userID, func(u *models.User) { u.IsDeleted = true })
}

func (m *MemoryStorage) updateActive(userID int64, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok || user.IsDeleted {
		return ErrUserNotFound
	}
	fn(&user)
	m.users[userID] = user

	return nil
}

func (m *MemoryStorage) CreateRevokedToken(_ context.Context, token models.RevokedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revoked[token.Token] = append(m.revoked[token.Token], token)

	return nil
}

func (m *MemoryStorage) IsTokenRevoked(_ context.Context, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.revoked[token]) > 0, nil
}

func (m *MemoryStorage) DeleteRevokedTokensExpiredBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for token, records := range m.revoked {
		kept := records[:0]
		for _, r := range records {
			if r.ExpiresAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}

		if len(kept) == 0 {
			delete(m.revoked, token)
		} else {
			m.revoked[token] = kept
		}
	}

	return removed, nil
}

// RevokedTokens returns a copy of the stored revocation records.
func (m *MemoryStorage) RevokedTokens() []models.RevokedToken {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RevokedToken
	for _, records := range m.revoked {
		out = append(out, records...)
	}

	return out
}

func (m *MemoryStorage) Close() {}

func redact(u models.User) models.User {
	u.Password = ""
	return u
}

func credentials(u models.User) models.Credentials {
	return models.Credentials{
		UserID:       u.ID,
		PasswordHash: u.Password,
		IsDeleted:    u.IsDeleted,
	}
}
