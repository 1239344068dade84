package payments

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// Deposit / withdrawal processing.
//
// The external payment gateway is a stubbed trust boundary: this
// package only finalises transactions that some gateway reported, it
// never talks to a payment rail itself.
// ─────────────────────────────────────────────

type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
)

type TransactionStatus string

const (
	TxPending TransactionStatus = "PENDING"
	TxSuccess TransactionStatus = "SUCCESS"
	TxFailed  TransactionStatus = "FAILED"
)

type Transaction struct {
	ID        string            `json:"id" gorm:"primaryKey"`
	UserID    string            `json:"user_id" gorm:"index"`
	Amount    int64             `json:"amount"` // cents
	Currency  string            `json:"currency" gorm:"default:USD"`
	Type      TransactionType   `json:"type"`
	Status    TransactionStatus `json:"status"`
	GatewayID string            `json:"gateway_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotPending          = errors.New("transaction is not pending")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// Service creates and finalises wallet transactions.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Create records a pending transaction awaiting gateway confirmation.
func (s *Service) Create(ctx context.Context, userID string, amount int64, txType TransactionType, gatewayID string) (*Transaction, error) {
	txn := &Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Currency:  "USD",
		Type:      txType,
		Status:    TxPending,
		GatewayID: gatewayID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// Process finalises a pending transaction and updates the user wallet.
// The status flip is guarded so a replayed confirmation is a no-op:
// only PENDING transactions are processed, and the wallet mutation
// shares the transaction with the status update and the ledger row.
func (s *Service) Process(ctx context.Context, transactionID string) error {
	// Declined withdrawals must commit their FAILED status, so the
	// rejection is reported out-of-band instead of aborting the tx.
	var declined error

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn Transaction
		if err := tx.Where("id = ?", transactionID).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}

		now := time.Now()

		switch txn.Type {
		case TxDeposit:
			res := tx.Model(&Transaction{}).
				Where("id = ? AND status = ?", transactionID, TxPending).
				Updates(map[string]interface{}{"status": TxSuccess, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotPending
			}
			if err := tx.Model(&auth.User{}).
				Where("id = ?", txn.UserID).
				Updates(map[string]interface{}{
					"wallet_balance": gorm.Expr("wallet_balance + ?", txn.Amount),
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
			entry := ledger.CreditLog{
				UserID:      txn.UserID,
				Amount:      txn.Amount,
				Description: "Deposit via " + txn.GatewayID,
				CreatedAt:   now,
			}
			return tx.Create(&entry).Error

		case TxWithdrawal:
			// Guarded debit; a short wallet fails the transaction
			// instead of overdrawing.
			res := tx.Model(&auth.User{}).
				Where("id = ? AND wallet_balance >= ?", txn.UserID, txn.Amount).
				Updates(map[string]interface{}{
					"wallet_balance": gorm.Expr("wallet_balance - ?", txn.Amount),
					"updated_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Model(&Transaction{}).
					Where("id = ? AND status = ?", transactionID, TxPending).
					Updates(map[string]interface{}{"status": TxFailed, "updated_at": now}).Error; err != nil {
					return err
				}
				log.Printf("[payments] withdrawal %s failed: insufficient funds", transactionID)
				declined = ErrInsufficientFunds
				return nil
			}
			flip := tx.Model(&Transaction{}).
				Where("id = ? AND status = ?", transactionID, TxPending).
				Updates(map[string]interface{}{"status": TxSuccess, "updated_at": now})
			if flip.Error != nil {
				return flip.Error
			}
			if flip.RowsAffected == 0 {
				return ErrNotPending
			}
			entry := ledger.CreditLog{
				UserID:      txn.UserID,
				Amount:      -txn.Amount,
				Description: "Withdrawal request",
				CreatedAt:   now,
			}
			return tx.Create(&entry).Error

		default:
			return ErrNotPending
		}
	})
	if err != nil {
		return err
	}
	return declined
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, transactionID string) (*Transaction, error) {
	var txn Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", transactionID).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}
