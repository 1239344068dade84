package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// CreditLog – immutable record of a signed balance change.
//
// Append-only: rows are never mutated or deleted. Every wallet
// mutation happens in the same transaction as its ledger row.
// ─────────────────────────────────────────────

type CreditLog struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"index"`
	Amount      int64     `json:"amount"` // cents; positive = credit, negative = debit
	JobID       string    `json:"job_id,omitempty" gorm:"index"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger provides append and query access to credit logs.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Append writes one ledger row. Use AppendTx inside a settlement
// transaction.
func (l *Ledger) Append(ctx context.Context, entry *CreditLog) error {
	entry.CreatedAt = time.Now()
	return l.db.WithContext(ctx).Create(entry).Error
}

// ForJob returns all entries referencing a job.
func (l *Ledger) ForJob(ctx context.Context, jobID string) ([]CreditLog, error) {
	var entries []CreditLog
	err := l.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// Recent returns the user's most recent entries, newest first.
func (l *Ledger) Recent(ctx context.Context, userID string, limit int) ([]CreditLog, error) {
	var entries []CreditLog
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Earnings returns the user's positive "Earned:" entries created at or
// after since. A zero since returns all of them.
func (l *Ledger) Earnings(ctx context.Context, userID string, since time.Time) ([]CreditLog, error) {
	q := l.db.WithContext(ctx).
		Where("user_id = ? AND amount > 0 AND description LIKE ?", userID, "Earned:%")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var entries []CreditLog
	err := q.Order("created_at ASC").Find(&entries).Error
	return entries, err
}

// TotalSpent returns the absolute sum of the user's negative entries.
func (l *Ledger) TotalSpent(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Model(&CreditLog{}).
		Where("user_id = ? AND amount < 0", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if total < 0 {
		total = -total
	}
	return total, err
}
