package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *registry.Registry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auth.User{}, &registry.Node{}, &job.Job{}, &ledger.CreditLog{}))

	reg := registry.NewRegistry(db, 45*time.Second)
	svc := NewService(db, reg, job.NewStore(db), ledger.New(db), 100)
	return svc, db, reg
}

func TestNetworkStats(t *testing.T) {
	svc, db, reg := newTestService(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-1", "bob", model.Capabilities{Models: []string{"llama3", "phi3"}})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, db.Create(&job.Job{ID: "j1", OwnerID: "alice", Status: job.StatusCompleted, CompletedAt: &now}).Error)
	require.NoError(t, db.Create(&job.Job{ID: "j2", OwnerID: "alice", Status: job.StatusPending}).Error)

	ns, err := svc.Network(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ns.ActiveNodes)
	require.Equal(t, int64(2), ns.TotalJobs)
	require.Equal(t, int64(1), ns.CompletedJobs)
	require.Equal(t, 2, ns.AvailableModels)
}

func TestProviderStats(t *testing.T) {
	svc, db, reg := newTestService(t)
	ctx := context.Background()

	bob := &auth.User{ID: "bob", Email: "b@x.io", Nickname: "bob", WalletBalance: 300, Status: "active"}
	require.NoError(t, db.Create(bob).Error)
	_, err := reg.Register(ctx, "node-1", "bob", model.Capabilities{Models: []string{"llama3"}})
	require.NoError(t, err)

	// Two jobs served on bob's node, one old earning outside the window.
	now := time.Now()
	old := now.AddDate(0, 0, -60)
	for i, id := range []string{"j1", "j2"} {
		completed := now.Add(time.Duration(-i) * time.Hour)
		require.NoError(t, db.Create(&job.Job{
			ID: id, OwnerID: "alice", NodeID: "node-1", Model: "llama3",
			Status: job.StatusCompleted, Cost: 100,
			CreatedAt: completed.Add(-time.Minute), CompletedAt: &completed,
		}).Error)
		require.NoError(t, db.Create(&ledger.CreditLog{
			UserID: "bob", Amount: 100, JobID: id,
			Description: "Earned: Job " + id + " completed (model: llama3)",
			CreatedAt:   completed,
		}).Error)
	}
	require.NoError(t, db.Create(&ledger.CreditLog{
		UserID: "bob", Amount: 100, JobID: "j-old",
		Description: "Earned: Job j-old completed (model: llama3)",
		CreatedAt:   old,
	}).Error)

	// Bob also spent money as a consumer.
	require.NoError(t, db.Create(&job.Job{
		ID: "j3", OwnerID: "bob", Model: "phi3", Status: job.StatusPending, Cost: 100, CreatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&ledger.CreditLog{
		UserID: "bob", Amount: -100, JobID: "j3",
		Description: "Spent: Job j3 (model: phi3)", CreatedAt: now,
	}).Error)

	report, err := svc.Provider(ctx, bob, 30)
	require.NoError(t, err)

	require.Equal(t, 30, report.PeriodDays)
	require.Equal(t, "3.00", report.WalletBalance)
	require.Equal(t, "3.00", report.Provider.TotalEarnings)
	require.Equal(t, "2.00", report.Provider.PeriodEarnings)
	require.Equal(t, int64(2), report.Provider.TotalJobsServed)
	require.Equal(t, int64(2), report.Provider.PeriodJobsServed)
	require.Equal(t, int64(1), report.Provider.TotalNodes)
	require.Equal(t, int64(1), report.Provider.ActiveNodes)

	require.Len(t, report.Provider.ModelBreakdown, 1)
	require.Equal(t, "llama3", report.Provider.ModelBreakdown[0].Model)
	require.Equal(t, 2, report.Provider.ModelBreakdown[0].Jobs)

	require.Equal(t, "1.00", report.Consumer.TotalSpent)
	require.Equal(t, int64(1), report.Consumer.TotalJobs)
	require.Len(t, report.Consumer.Jobs, 1)

	require.NotEmpty(t, report.Provider.EarningsByDay)
	require.Len(t, report.Transactions, 4)
}

func TestProviderStatsDailyBucketsSumInCents(t *testing.T) {
	svc, db, _ := newTestService(t)

	bob := &auth.User{ID: "bob", Email: "b@x.io", Nickname: "bob", WalletBalance: 0, Status: "active"}
	require.NoError(t, db.Create(bob).Error)

	// Odd cent amounts on one day must sum exactly, not round per row.
	now := time.Now()
	for i, amount := range []int64{150, 25, 1} {
		require.NoError(t, db.Create(&ledger.CreditLog{
			UserID: "bob", Amount: amount, JobID: fmt.Sprintf("j%d", i),
			Description: "Earned: Job completed",
			CreatedAt:   now,
		}).Error)
	}

	report, err := svc.Provider(context.Background(), bob, 30)
	require.NoError(t, err)

	require.Len(t, report.Provider.EarningsByDay, 1)
	day := report.Provider.EarningsByDay[0]
	require.Equal(t, now.Format("2006-01-02"), day.Date)
	require.Equal(t, 3, day.Jobs)
	require.Equal(t, "1.76", day.Earned)
	require.Equal(t, "1.76", report.Provider.PeriodEarnings)
}

func TestProviderStatsDefaultsPeriod(t *testing.T) {
	svc, db, _ := newTestService(t)

	u := &auth.User{ID: "u", Email: "u@x.io", WalletBalance: 0, Status: "active"}
	require.NoError(t, db.Create(u).Error)

	report, err := svc.Provider(context.Background(), u, 0)
	require.NoError(t, err)
	require.Equal(t, 30, report.PeriodDays)
	require.Equal(t, "0.00", report.Provider.TotalEarnings)
}
