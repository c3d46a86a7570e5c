package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type Credentials struct {
	UserID       int64
	PasswordHash string // bcrypt hash
	IsDeleted    bool
}

type User struct {
	ID        int64     `json:"userId"`
	Name      string    `json:"userName"`
	Email     string    `json:"userEmail"`
	Password  string    `json:"-"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
}

// RevokedToken is an access token invalidated before its natural expiry.
type RevokedToken struct {
	ID        uuid.UUID
	Token     string
	UserID    int64
	ExpiresAt time.Time
	RevokedAt time.Time
}
