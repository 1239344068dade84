package payments

import (
	"context"
	"testing"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auth.User{}, &Transaction{}, &ledger.CreditLog{}))
	require.NoError(t, db.Create(&auth.User{ID: "alice", Email: "a@x.io", WalletBalance: 500, Status: "active"}).Error)
	return NewService(db), db
}

func balanceOf(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var u auth.User
	require.NoError(t, db.First(&u, "id = ?", userID).Error)
	return u.WalletBalance
}

func TestDepositProcess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, "alice", 1000, TxDeposit, "stripe")
	require.NoError(t, err)
	require.Equal(t, TxPending, txn.Status)

	require.NoError(t, svc.Process(ctx, txn.ID))
	require.Equal(t, int64(1500), balanceOf(t, db, "alice"))

	final, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, TxSuccess, final.Status)

	// One ledger row records the credit.
	var rows []ledger.CreditLog
	require.NoError(t, db.Where("user_id = ?", "alice").Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1000), rows[0].Amount)
}

func TestDepositProcessReplay(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, "alice", 1000, TxDeposit, "stripe")
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, txn.ID))

	// A replayed gateway confirmation must not double-credit.
	require.ErrorIs(t, svc.Process(ctx, txn.ID), ErrNotPending)
	require.Equal(t, int64(1500), balanceOf(t, db, "alice"))
}

func TestWithdrawalProcess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, "alice", 300, TxWithdrawal, "bank")
	require.NoError(t, err)

	require.NoError(t, svc.Process(ctx, txn.ID))
	require.Equal(t, int64(200), balanceOf(t, db, "alice"))

	final, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, TxSuccess, final.Status)
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	txn, err := svc.Create(ctx, "alice", 9999, TxWithdrawal, "bank")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Process(ctx, txn.ID), ErrInsufficientFunds)

	// Wallet untouched, transaction marked failed.
	require.Equal(t, int64(500), balanceOf(t, db, "alice"))
	final, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, TxFailed, final.Status)
}

func TestProcessUnknownTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	require.ErrorIs(t, svc.Process(context.Background(), "ghost"), ErrTransactionNotFound)
}
