package stats

import (
	"context"
	"sort"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// Network and per-user statistics, recomputed on demand.
// Every read performs the registry stale sweep first so counts never
// include dead nodes.
// ─────────────────────────────────────────────

// NetworkStats is the public aggregate view.
type NetworkStats struct {
	ActiveNodes     int64 `json:"active_nodes"`
	TotalJobs       int64 `json:"total_jobs"`
	CompletedJobs   int64 `json:"completed_jobs"`
	AvailableModels int   `json:"available_models"`
}

// DailyEarnings is one bucket of the provider earnings series.
type DailyEarnings struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Earned string `json:"earned"`
	Jobs   int    `json:"jobs"`
}

// ModelEarnings is the per-model breakdown of jobs served.
type ModelEarnings struct {
	Model  string `json:"model"`
	Jobs   int    `json:"jobs"`
	Earned string `json:"earned"`
}

// TransactionView is one ledger row as shown to the user.
type TransactionView struct {
	ID          uint   `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	Type        string `json:"type"` // "earning" | "spending"
}

// ProviderStats is the comprehensive per-user report, covering both
// the provider and consumer sides of the account.
type ProviderStats struct {
	Provider struct {
		TotalEarnings    string          `json:"total_earnings"`
		PeriodEarnings   string          `json:"period_earnings"`
		TotalJobsServed  int64           `json:"total_jobs_served"`
		PeriodJobsServed int64           `json:"period_jobs_served"`
		ActiveNodes      int64           `json:"active_nodes"`
		TotalNodes       int64           `json:"total_nodes"`
		EarningsByDay    []DailyEarnings `json:"earnings_by_day"`
		ModelBreakdown   []ModelEarnings `json:"model_breakdown"`
	} `json:"provider"`
	Consumer struct {
		TotalSpent string    `json:"total_spent"`
		TotalJobs  int64     `json:"total_jobs"`
		Jobs       []job.Job `json:"jobs"`
	} `json:"consumer"`
	WalletBalance string            `json:"wallet_balance"`
	Transactions  []TransactionView `json:"transactions"`
	PeriodDays    int               `json:"period_days"`
}

// Service computes statistics from the registry, job and ledger tables.
type Service struct {
	db            *gorm.DB
	registry      *registry.Registry
	jobs          *job.Store
	ledger        *ledger.Ledger
	providerShare int64
}

func NewService(db *gorm.DB, reg *registry.Registry, jobs *job.Store, lg *ledger.Ledger, providerShare int64) *Service {
	return &Service{db: db, registry: reg, jobs: jobs, ledger: lg, providerShare: providerShare}
}

// Network returns the public aggregate stats.
func (s *Service) Network(ctx context.Context) (*NetworkStats, error) {
	active, err := s.registry.ActiveCount(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.jobs.Count(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := s.jobs.CountByStatus(ctx, job.StatusCompleted)
	if err != nil {
		return nil, err
	}
	models, err := s.registry.AggregateCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	return &NetworkStats{
		ActiveNodes:     active,
		TotalJobs:       total,
		CompletedJobs:   completed,
		AvailableModels: len(models),
	}, nil
}

// RecentJobs returns the user's most recent jobs, newest first.
func (s *Service) RecentJobs(ctx context.Context, userID string, limit int) ([]job.Job, error) {
	return s.jobs.ListByOwner(ctx, userID, limit)
}

// Models returns the aggregated model availability view.
func (s *Service) Models(ctx context.Context) ([]registry.ModelAvailability, error) {
	return s.registry.AggregateCapabilities(ctx)
}

// Provider computes the per-user report over the last `days` days.
func (s *Service) Provider(ctx context.Context, user *auth.User, days int) (*ProviderStats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	out := &ProviderStats{PeriodDays: days}
	out.WalletBalance = model.FormatCredits(user.WalletBalance)

	// Nodes
	totalNodes, activeNodes, err := s.registry.NodesByOwner(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out.Provider.TotalNodes = totalNodes
	out.Provider.ActiveNodes = activeNodes

	// Jobs served: completed jobs executed on this user's nodes.
	var served, servedPeriod int64
	if err := s.db.WithContext(ctx).Model(&job.Job{}).
		Joins("JOIN nodes ON nodes.node_id = jobs.node_id").
		Where("nodes.owner_id = ? AND jobs.status = ?", user.ID, job.StatusCompleted).
		Count(&served).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&job.Job{}).
		Joins("JOIN nodes ON nodes.node_id = jobs.node_id").
		Where("nodes.owner_id = ? AND jobs.status = ? AND jobs.completed_at >= ?",
			user.ID, job.StatusCompleted, since).
		Count(&servedPeriod).Error; err != nil {
		return nil, err
	}
	out.Provider.TotalJobsServed = served
	out.Provider.PeriodJobsServed = servedPeriod

	// Earnings
	allEarnings, err := s.ledger.Earnings(ctx, user.ID, time.Time{})
	if err != nil {
		return nil, err
	}
	type dayBucket struct {
		jobs  int
		cents int64
	}
	var totalEarned, periodEarned int64
	byDay := make(map[string]*dayBucket)
	var dayOrder []string
	for _, e := range allEarnings {
		totalEarned += e.Amount
		if e.CreatedAt.Before(since) {
			continue
		}
		periodEarned += e.Amount
		day := e.CreatedAt.Format("2006-01-02")
		bucket, ok := byDay[day]
		if !ok {
			bucket = &dayBucket{}
			byDay[day] = bucket
			dayOrder = append(dayOrder, day)
		}
		bucket.jobs++
		bucket.cents += e.Amount
	}
	sort.Strings(dayOrder)
	for _, day := range dayOrder {
		b := byDay[day]
		out.Provider.EarningsByDay = append(out.Provider.EarningsByDay, DailyEarnings{
			Date:   day,
			Earned: model.FormatCredits(b.cents),
			Jobs:   b.jobs,
		})
	}
	out.Provider.TotalEarnings = model.FormatCredits(totalEarned)
	out.Provider.PeriodEarnings = model.FormatCredits(periodEarned)

	// Per-model breakdown of jobs served in the period.
	var periodJobs []job.Job
	if err := s.db.WithContext(ctx).
		Joins("JOIN nodes ON nodes.node_id = jobs.node_id").
		Where("nodes.owner_id = ? AND jobs.status = ? AND jobs.completed_at >= ?",
			user.ID, job.StatusCompleted, since).
		Find(&periodJobs).Error; err != nil {
		return nil, err
	}
	byModel := make(map[string]*ModelEarnings)
	var modelOrder []string
	for _, j := range periodJobs {
		name := j.Model
		if name == "" {
			name = "unknown"
		}
		entry, ok := byModel[name]
		if !ok {
			entry = &ModelEarnings{Model: name}
			byModel[name] = entry
			modelOrder = append(modelOrder, name)
		}
		entry.Jobs++
		entry.Earned = model.FormatCredits(int64(entry.Jobs) * s.providerShare)
	}
	sort.Strings(modelOrder)
	for _, name := range modelOrder {
		out.Provider.ModelBreakdown = append(out.Provider.ModelBreakdown, *byModel[name])
	}

	// Consumer side
	spent, err := s.ledger.TotalSpent(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out.Consumer.TotalSpent = model.FormatCredits(spent)

	myJobs, err := s.jobs.ListByOwner(ctx, user.ID, 50)
	if err != nil {
		return nil, err
	}
	var totalJobs int64
	if err := s.db.WithContext(ctx).Model(&job.Job{}).
		Where("owner_id = ?", user.ID).
		Count(&totalJobs).Error; err != nil {
		return nil, err
	}
	out.Consumer.TotalJobs = totalJobs
	out.Consumer.Jobs = myJobs

	// Recent transactions
	recent, err := s.ledger.Recent(ctx, user.ID, 50)
	if err != nil {
		return nil, err
	}
	for _, e := range recent {
		kind := "spending"
		if e.Amount > 0 {
			kind = "earning"
		}
		out.Transactions = append(out.Transactions, TransactionView{
			ID:          e.ID,
			Amount:      model.FormatCredits(e.Amount),
			Description: e.Description,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
			Type:        kind,
		})
	}

	return out, nil
}
