package handler

import (
	"errors"
	"net/http"
	"strconv"

	appctx "github.com/Himesh-29/GPUConnect/internal/context"
	"github.com/Himesh-29/GPUConnect/internal/dispatch"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/notify"
	"github.com/gin-gonic/gin"
)

// JobHandler handles job submission and retrieval.
type JobHandler struct {
	router   *dispatch.Router
	jobs     *job.Store
	composer *notify.Composer
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(router *dispatch.Router, jobs *job.Store, composer *notify.Composer) *JobHandler {
	return &JobHandler{router: router, jobs: jobs, composer: composer}
}

// ─────────────────────────────────────────────
// POST /api/v1/jobs
// ─────────────────────────────────────────────

type SubmitJobRequest struct {
	Model  string `json:"model" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// Submit accepts a compute request, debits the wallet and broadcasts
// the job to live provider nodes.
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := appctx.MustGetUser(c)
	j, err := h.router.Submit(c.Request.Context(), user.ID, req.Model, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInsufficientFunds):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
		case errors.Is(err, dispatch.ErrNoEligibleProviders):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no available provider nodes"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job submission failed"})
		}
		return
	}

	h.composer.JobChanged(c.Request.Context(), j)
	h.composer.BalanceChanged(c.Request.Context(), user.ID, user.WalletBalance-j.Cost)
	h.composer.NetworkChanged(c.Request.Context())

	c.JSON(http.StatusCreated, j)
}

// ─────────────────────────────────────────────
// GET /api/v1/jobs/:id
// ─────────────────────────────────────────────

// Get returns one of the caller's jobs. Other users' jobs are
// forbidden regardless of existence.
func (h *JobHandler) Get(c *gin.Context) {
	j, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return
	}

	if j.OwnerID != appctx.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your job"})
		return
	}
	c.JSON(http.StatusOK, j)
}

// ─────────────────────────────────────────────
// GET /api/v1/jobs
// ─────────────────────────────────────────────

// List returns the caller's recent jobs, newest first.
func (h *JobHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	jobs, err := h.jobs.ListByOwner(c.Request.Context(), appctx.GetUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// RegisterRoutes registers job routes on an authenticated group.
func (h *JobHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/jobs", h.Submit)
	g.GET("/jobs", h.List)
	g.GET("/jobs/:id", h.Get)
}
