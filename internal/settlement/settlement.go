package settlement

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

// errAlreadySettled aborts the surrounding transaction when the job has
// already reached a terminal state. Mapped to a no-op by the caller:
// the first result wins, later reports must not double-credit.
var errAlreadySettled = errors.New("job already settled")

// transitionable is the status gate for terminal transitions.
var transitionable = []job.Status{job.StatusPending, job.StatusRunning}

// Engine performs the atomic balance + ledger update triggered by job
// completion. All mutations for one settlement happen in a single
// transaction; a DB failure rolls the whole settlement back.
type Engine struct {
	db              *gorm.DB
	providerShare   int64 // cents credited to the provider per job
	refundOnFailure bool
}

// NewEngine creates a settlement engine. providerShare is the portion
// of the job cost credited to the executing provider (equal to the job
// cost under the zero-fee configuration).
func NewEngine(db *gorm.DB, providerShare int64, refundOnFailure bool) *Engine {
	return &Engine{db: db, providerShare: providerShare, refundOnFailure: refundOnFailure}
}

// Complete marks a job COMPLETED, stores its result, credits the
// executing provider and appends both ledger sides. Safe to invoke
// twice for the same job: the status gate turns replays into no-ops.
func (e *Engine) Complete(ctx context.Context, jobID, nodeID, providerID, result string) (*job.Job, error) {
	var settled job.Job

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j job.Job
		if err := tx.Where("id = ?", jobID).First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&job.Job{}).
			Where("id = ? AND status IN ?", jobID, transitionable).
			Updates(map[string]interface{}{
				"status":       job.StatusCompleted,
				"result":       result,
				"node_id":      nodeID,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadySettled
		}

		modelName := j.Model
		if modelName == "" {
			modelName = "unknown"
		}

		if providerID != "" {
			if err := tx.Model(&auth.User{}).
				Where("id = ?", providerID).
				Updates(map[string]interface{}{
					"wallet_balance": gorm.Expr("wallet_balance + ?", e.providerShare),
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
			credit := ledger.CreditLog{
				UserID:      providerID,
				Amount:      e.providerShare,
				JobID:       jobID,
				Description: "Earned: Job " + jobID + " completed (model: " + modelName + ")",
				CreatedAt:   now,
			}
			if err := tx.Create(&credit).Error; err != nil {
				return err
			}
		}

		// The consumer was debited at submission without a ledger row;
		// record it now, keyed on the job id so replays cannot duplicate it.
		var debit ledger.CreditLog
		if err := tx.Where("job_id = ? AND amount < 0", jobID).
			Attrs(ledger.CreditLog{
				UserID:      j.OwnerID,
				Amount:      -j.Cost,
				JobID:       jobID,
				Description: "Spent: Job " + jobID + " (model: " + modelName + ")",
				CreatedAt:   j.CreatedAt,
			}).
			FirstOrCreate(&debit).Error; err != nil {
			return err
		}

		j.Status = job.StatusCompleted
		j.Result = result
		j.NodeID = nodeID
		j.CompletedAt = &now
		settled = j
		return nil
	})

	if errors.Is(err, errAlreadySettled) {
		log.Printf("[settlement] job %s already terminal, ignoring duplicate completion", jobID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[settlement] job %s completed by node %s, provider %s credited %d", jobID, nodeID, providerID, e.providerShare)
	return &settled, nil
}

// Fail marks a job FAILED with error details. No balance movement
// unless refund-on-failure is configured, in which case the consumer's
// debit is returned with a refund ledger row. Idempotent under replay
// via the same status gate as Complete.
func (e *Engine) Fail(ctx context.Context, jobID, nodeID, errMsg string) (*job.Job, error) {
	var settled job.Job

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j job.Job
		if err := tx.Where("id = ?", jobID).First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&job.Job{}).
			Where("id = ? AND status IN ?", jobID, transitionable).
			Updates(map[string]interface{}{
				"status":       job.StatusFailed,
				"error":        errMsg,
				"node_id":      nodeID,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadySettled
		}

		if e.refundOnFailure {
			if err := tx.Model(&auth.User{}).
				Where("id = ?", j.OwnerID).
				Updates(map[string]interface{}{
					"wallet_balance": gorm.Expr("wallet_balance + ?", j.Cost),
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
			refund := ledger.CreditLog{
				UserID:      j.OwnerID,
				Amount:      j.Cost,
				JobID:       jobID,
				Description: "Refund: Job " + jobID + " failed",
				CreatedAt:   now,
			}
			if err := tx.Create(&refund).Error; err != nil {
				return err
			}
		}

		j.Status = job.StatusFailed
		j.Error = errMsg
		j.NodeID = nodeID
		j.CompletedAt = &now
		settled = j
		return nil
	})

	if errors.Is(err, errAlreadySettled) {
		log.Printf("[settlement] job %s already terminal, ignoring duplicate failure", jobID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[settlement] job %s failed: %s", jobID, errMsg)
	return &settled, nil
}
