package job

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

// ─────────────────────────────────────────────
// Job State Machine
//
// PENDING → RUNNING → {COMPLETED, FAILED}
// Transitions are monotonic; exactly one terminal
// transition may occur per job.
// ─────────────────────────────────────────────

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Job is one unit of requested work with a defined cost and lifecycle.
type Job struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	OwnerID     string     `json:"owner_id" gorm:"index"`
	NodeID      string     `json:"node_id,omitempty"` // set by the node that reports first
	Model       string     `json:"model"`
	Prompt      string     `json:"prompt"`
	Status      Status     `json:"status" gorm:"index"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Cost        int64      `json:"cost"` // cents, debited at submission
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ─────────────────────────────────────────────
// Store – owner-scoped job queries.
// ─────────────────────────────────────────────

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

// ListByOwner returns the owner's jobs, newest first. limit <= 0 means
// no limit.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Job, error) {
	q := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus returns how many jobs are in the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// Count returns the total number of jobs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Job{}).Count(&count).Error
	return count, err
}
