package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
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
	require.NoError(t, db.AutoMigrate(&auth.User{}, &job.Job{}, &ledger.CreditLog{}))
	return db
}

// seedScenario creates a consumer who already paid for one pending job
// and a provider with an empty wallet.
func seedScenario(t *testing.T, db *gorm.DB, cost int64) (consumer, provider auth.User, j job.Job) {
	t.Helper()
	consumer = auth.User{ID: "consumer", Email: "c@x.io", WalletBalance: 10000 - cost, Status: "active"}
	provider = auth.User{ID: "provider", Email: "p@x.io", WalletBalance: 0, Status: "active"}
	require.NoError(t, db.Create(&consumer).Error)
	require.NoError(t, db.Create(&provider).Error)

	j = job.Job{
		ID:        "job-1",
		OwnerID:   consumer.ID,
		Model:     "llama3",
		Prompt:    "hello",
		Status:    job.StatusPending,
		Cost:      cost,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&j).Error)
	return consumer, provider, j
}

func balanceOf(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var u auth.User
	require.NoError(t, db.First(&u, "id = ?", userID).Error)
	return u.WalletBalance
}

func TestCompleteSettlesOnce(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 100, false)
	ctx := context.Background()

	_, _, j := seedScenario(t, db, 100)

	settled, err := engine.Complete(ctx, j.ID, "node-1", "provider", "42 tokens of wisdom")
	require.NoError(t, err)
	require.NotNil(t, settled)
	require.Equal(t, job.StatusCompleted, settled.Status)
	require.Equal(t, "42 tokens of wisdom", settled.Result)
	require.NotNil(t, settled.CompletedAt)

	// Consumer paid 1.00 at submission, provider earned 1.00 now.
	require.Equal(t, int64(9900), balanceOf(t, db, "consumer"))
	require.Equal(t, int64(100), balanceOf(t, db, "provider"))

	// Exactly two ledger rows for the job, summing to zero.
	var rows []ledger.CreditLog
	require.NoError(t, db.Where("job_id = ?", j.ID).Find(&rows).Error)
	require.Len(t, rows, 2)
	var sum int64
	for _, row := range rows {
		sum += row.Amount
	}
	require.Zero(t, sum)
}

func TestCompleteReplayIsNoop(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 100, false)
	ctx := context.Background()

	_, _, j := seedScenario(t, db, 100)

	first, err := engine.Complete(ctx, j.ID, "node-1", "provider", "first")
	require.NoError(t, err)
	require.NotNil(t, first)

	// A second node reporting the same job must not double-credit.
	second, err := engine.Complete(ctx, j.ID, "node-2", "provider", "second")
	require.NoError(t, err)
	require.Nil(t, second)

	require.Equal(t, int64(100), balanceOf(t, db, "provider"))

	var stored job.Job
	require.NoError(t, db.First(&stored, "id = ?", j.ID).Error)
	require.Equal(t, "first", stored.Result)
	require.Equal(t, "node-1", stored.NodeID)

	var count int64
	require.NoError(t, db.Model(&ledger.CreditLog{}).Where("job_id = ?", j.ID).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestCompleteWithRevenueShare(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 80, false) // provider keeps 0.80 of a 1.00 job
	ctx := context.Background()

	_, _, j := seedScenario(t, db, 100)

	_, err := engine.Complete(ctx, j.ID, "node-1", "provider", "done")
	require.NoError(t, err)
	require.Equal(t, int64(80), balanceOf(t, db, "provider"))
}

func TestFailNoRefundByDefault(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 100, false)
	ctx := context.Background()

	_, _, j := seedScenario(t, db, 100)

	failed, err := engine.Fail(ctx, j.ID, "node-1", "out of memory")
	require.NoError(t, err)
	require.NotNil(t, failed)
	require.Equal(t, job.StatusFailed, failed.Status)
	require.Equal(t, "out of memory", failed.Error)

	// No balance movement, no ledger rows.
	require.Equal(t, int64(9900), balanceOf(t, db, "consumer"))
	require.Equal(t, int64(0), balanceOf(t, db, "provider"))
	var count int64
	require.NoError(t, db.Model(&ledger.CreditLog{}).Where("job_id = ?", j.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestFailWithRefundConfigured(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 100, true)
	ctx := context.Background()

	_, _, j := seedScenario(t, db, 100)

	failed, err := engine.Fail(ctx, j.ID, "node-1", "crash")
	require.NoError(t, err)
	require.NotNil(t, failed)

	// The submission debit is returned.
	require.Equal(t, int64(10000), balanceOf(t, db, "consumer"))

	var rows []ledger.CreditLog
	require.NoError(t, db.Where("job_id = ?", j.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, int64(100), rows[0].Amount)
}

func TestFailThenCompleteIsNoop(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 100, false)
	ctx := context.Background()

	_, _, j := seedScenario(t, db, 100)

	_, err := engine.Fail(ctx, j.ID, "node-1", "timeout")
	require.NoError(t, err)

	// A late success for an already-failed job changes nothing.
	settled, err := engine.Complete(ctx, j.ID, "node-2", "provider", "too late")
	require.NoError(t, err)
	require.Nil(t, settled)
	require.Equal(t, int64(0), balanceOf(t, db, "provider"))
}

func TestCompleteUnknownJob(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, 100, false)

	_, err := engine.Complete(context.Background(), "nope", "node-1", "provider", "x")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = engine.Fail(context.Background(), "nope", "node-1", "x")
	require.ErrorIs(t, err, ErrJobNotFound)
}
