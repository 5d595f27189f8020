package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an end user that can authenticate.
type User struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    string
	Role            string
	Provider        string
	IsActive        bool
	IsEmailVerified bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
