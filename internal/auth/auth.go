package auth

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────
// User represents a registered platform user.
// A user may act as a compute consumer, a provider
// (by connecting nodes), or both.
// ─────────────────────────────────────────────

type User struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	Email         string     `json:"email" gorm:"uniqueIndex"`
	Password      string     `json:"-"` // bcrypt hash, never serialised
	Nickname      string     `json:"nickname"`
	Role          string     `json:"role" gorm:"default:USER"` // USER | PROVIDER
	WalletBalance int64      `json:"wallet_balance"`           // cents
	Status        string     `json:"status" gorm:"default:active"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ─────────────────────────────────────────────
// UserService – user lifecycle and lookup.
// ─────────────────────────────────────────────

type UserService interface {
	// Register creates a new user via email + password. The new wallet
	// starts with the configured initial balance.
	Register(ctx context.Context, email, password, nickname string) (*User, error)

	// Login authenticates via email + password.
	Login(ctx context.Context, email, password string) (*User, error)

	// GetByID retrieves a user by their internal ID.
	GetByID(ctx context.Context, userID string) (*User, error)

	// SetStatus sets user account status (active / banned / suspended).
	SetStatus(ctx context.Context, userID string, status string) error
}
