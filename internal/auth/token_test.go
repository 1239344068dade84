package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &AgentToken{}))
	return db
}

func TestTokenGenerateAndValidate(t *testing.T) {
	db := newTestDB(t)
	svc := NewTokenService(db)
	ctx := context.Background()

	record, raw, err := svc.Generate(ctx, "user-1", "workstation")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "gpc_"))
	require.Equal(t, "user-1", record.UserID)
	require.True(t, record.IsActive)

	got, err := svc.Validate(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, record.ID, got.ID)
	require.NotNil(t, got.LastUsed)
}

func TestTokenSecretNotStored(t *testing.T) {
	db := newTestDB(t)
	svc := NewTokenService(db)

	record, raw, err := svc.Generate(context.Background(), "user-1", "lab")
	require.NoError(t, err)

	// Only the hash is persisted.
	var stored AgentToken
	require.NoError(t, db.First(&stored, "id = ?", record.ID).Error)
	require.NotEqual(t, raw, stored.TokenHash)
	require.NotContains(t, stored.TokenHash, raw)
	require.Len(t, stored.TokenHash, 64) // hex sha256
}

func TestTokenValidateRejectsGarbage(t *testing.T) {
	db := newTestDB(t)
	svc := NewTokenService(db)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate(ctx, "gpc_deadbeef")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenLimit(t *testing.T) {
	db := newTestDB(t)
	svc := NewTokenService(db)
	ctx := context.Background()

	var last *AgentToken
	for i := 0; i < MaxActiveTokens; i++ {
		record, _, err := svc.Generate(ctx, "user-1", "t")
		require.NoError(t, err)
		last = record
	}

	_, _, err := svc.Generate(ctx, "user-1", "one-too-many")
	require.ErrorIs(t, err, ErrTokenLimit)

	// Another user is unaffected by the cap.
	_, _, err = svc.Generate(ctx, "user-2", "t")
	require.NoError(t, err)

	// Revoking frees a slot.
	require.NoError(t, svc.Revoke(ctx, "user-1", last.ID))
	_, _, err = svc.Generate(ctx, "user-1", "replacement")
	require.NoError(t, err)
}

func TestTokenRevoke(t *testing.T) {
	db := newTestDB(t)
	svc := NewTokenService(db)
	ctx := context.Background()

	record, raw, err := svc.Generate(ctx, "user-1", "t")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, "user-1", record.ID))

	// A revoked token no longer authenticates.
	_, err = svc.Validate(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Second revoke is gone, as is revoking someone else's token.
	require.ErrorIs(t, svc.Revoke(ctx, "user-1", record.ID), ErrTokenGone)
	require.ErrorIs(t, svc.Revoke(ctx, "user-2", record.ID), ErrTokenGone)
}

func TestTokenList(t *testing.T) {
	db := newTestDB(t)
	svc := NewTokenService(db)
	ctx := context.Background()

	a, _, err := svc.Generate(ctx, "user-1", "a")
	require.NoError(t, err)
	b, _, err := svc.Generate(ctx, "user-1", "b")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, "user-1", a.ID))

	tokens, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, b.ID, tokens[0].ID)
}
