package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// AgentToken – bearer credential for provider nodes.
//
// Only the SHA-256 hash of the secret is persisted. Possession of a
// secret whose hash matches an active record authenticates as that
// record's owner.
// ─────────────────────────────────────────────

// MaxActiveTokens limits simultaneously active tokens per user.
const MaxActiveTokens = 5

const tokenPrefix = "gpc_"

type AgentToken struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	UserID    string     `json:"user_id" gorm:"index"`
	Label     string     `json:"label"`
	TokenHash string     `json:"-" gorm:"uniqueIndex"`
	IsActive  bool       `json:"is_active"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Prefix returns a display-safe identifier for the token.
func (t *AgentToken) Prefix() string {
	if len(t.TokenHash) < 8 {
		return tokenPrefix + "..."
	}
	return tokenPrefix + t.TokenHash[:8] + "..."
}

var (
	ErrTokenLimit   = errors.New("maximum active tokens reached, revoke one first")
	ErrInvalidToken = errors.New("invalid or revoked agent token")
	ErrTokenGone    = errors.New("token not found or already revoked")
)

// TokenService issues, validates and revokes agent tokens.
type TokenService interface {
	// Generate creates a new token and returns the record together with
	// the raw secret. The secret is shown exactly once.
	Generate(ctx context.Context, userID, label string) (*AgentToken, string, error)

	// Validate checks a raw secret against active records and returns
	// the matching token, bumping last_used.
	Validate(ctx context.Context, raw string) (*AgentToken, error)

	// List returns the user's active tokens.
	List(ctx context.Context, userID string) ([]AgentToken, error)

	// Revoke deactivates one of the user's tokens.
	Revoke(ctx context.Context, userID, tokenID string) error
}

type tokenService struct {
	db *gorm.DB
}

// NewTokenService creates a TokenService backed by the given DB.
func NewTokenService(db *gorm.DB) TokenService {
	return &tokenService{db: db}
}

func (s *tokenService) Generate(ctx context.Context, userID, label string) (*AgentToken, string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AgentToken{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error; err != nil {
		return nil, "", err
	}
	if count >= MaxActiveTokens {
		return nil, "", ErrTokenLimit
	}

	raw, err := generateSecret()
	if err != nil {
		return nil, "", err
	}

	token := &AgentToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Label:     label,
		TokenHash: hashSecret(raw),
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, "", err
	}
	return token, raw, nil
}

func (s *tokenService) Validate(ctx context.Context, raw string) (*AgentToken, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	var token AgentToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND is_active = ?", hashSecret(raw), true).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	now := time.Now()
	token.LastUsed = &now
	s.db.WithContext(ctx).Model(&token).Update("last_used", now)

	return &token, nil
}

func (s *tokenService) List(ctx context.Context, userID string) ([]AgentToken, error) {
	var tokens []AgentToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

func (s *tokenService) Revoke(ctx context.Context, userID, tokenID string) error {
	result := s.db.WithContext(ctx).Model(&AgentToken{}).
		Where("id = ? AND user_id = ? AND is_active = ?", tokenID, userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTokenGone
	}
	return nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(bytes), nil
}

func hashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
