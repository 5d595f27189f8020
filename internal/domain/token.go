package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the stored side of an opaque refresh token.
type RefreshToken struct {
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// TokenPair is the access/refresh pair handed back after a successful
// authentication exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}
