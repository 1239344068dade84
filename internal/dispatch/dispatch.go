package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientFunds rejects a submission without mutating state.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoEligibleProviders means the only live nodes (if any) belong
	// to the submitting principal.
	ErrNoEligibleProviders = errors.New("no available third-party nodes")
)

// Broadcaster fans a job dispatch out to all live node connections.
// Implemented by the websocket hub.
type Broadcaster interface {
	BroadcastJobDispatch(ctx context.Context, dispatch *model.JobDispatch)
}

// Router accepts compute requests, debits the consumer and broadcasts
// the job to every live provider connection. This is a
// broadcast-and-first-claim design: whichever node reports a result
// first wins, arbitrated by the settlement status gate.
type Router struct {
	db       *gorm.DB
	registry *registry.Registry
	hub      Broadcaster
	jobCost  int64 // cents
}

// NewRouter creates a dispatch router.
func NewRouter(db *gorm.DB, reg *registry.Registry, hub Broadcaster, jobCost int64) *Router {
	return &Router{db: db, registry: reg, hub: hub, jobCost: jobCost}
}

// Submit validates eligibility and balance, debits the owner, creates a
// PENDING job and broadcasts it. On any rejection nothing is mutated.
func (r *Router) Submit(ctx context.Context, ownerID, modelName, prompt string) (*job.Job, error) {
	// A consumer may not be served by their own provider nodes.
	eligible, err := r.registry.LiveNodes(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleProviders
	}

	j := &job.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Model:     modelName,
		Prompt:    prompt,
		Status:    job.StatusPending,
		Cost:      r.jobCost,
		CreatedAt: time.Now(),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guarded debit: the balance check and the mutation are one
		// statement, so concurrent submissions cannot overdraw.
		res := tx.Model(&auth.User{}).
			Where("id = ? AND wallet_balance >= ?", ownerID, r.jobCost).
			Updates(map[string]interface{}{
				"wallet_balance": gorm.Expr("wallet_balance - ?", r.jobCost),
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}
		return tx.Create(j).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[dispatch] job %s submitted by %s (model: %s), broadcasting to %d node(s)",
		j.ID, ownerID, modelName, len(eligible))

	r.hub.BroadcastJobDispatch(ctx, &model.JobDispatch{
		JobID:   j.ID,
		OwnerID: ownerID,
		Model:   modelName,
		Prompt:  prompt,
	})

	return j, nil
}
