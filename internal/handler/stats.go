package handler

import (
	"net/http"
	"strconv"

	appctx "github.com/Himesh-29/GPUConnect/internal/context"
	"github.com/Himesh-29/GPUConnect/internal/stats"
	"github.com/gin-gonic/gin"
)

// StatsHandler serves public network state and per-user reports.
type StatsHandler struct {
	stats *stats.Service
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(st *stats.Service) *StatsHandler {
	return &StatsHandler{stats: st}
}

// ─────────────────────────────────────────────
// GET /api/v1/stats
// ─────────────────────────────────────────────

// Network returns network-wide aggregates.
func (h *StatsHandler) Network(c *gin.Context) {
	ns, err := h.stats.Network(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, ns)
}

// ─────────────────────────────────────────────
// GET /api/v1/models
// ─────────────────────────────────────────────

// Models returns the live model availability view.
func (h *StatsHandler) Models(c *gin.Context) {
	models, err := h.stats.Models(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "model availability unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "count": len(models)})
}

// ─────────────────────────────────────────────
// GET /api/v1/stats/provider?days=N
// ─────────────────────────────────────────────

// Provider returns the caller's earnings and spending report.
func (h *StatsHandler) Provider(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	report, err := h.stats.Provider(c.Request.Context(), appctx.MustGetUser(c), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provider stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RegisterRoutes registers stats routes. Network state is public, the
// provider report requires a session.
func (h *StatsHandler) RegisterRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	r.GET("/api/v1/stats", h.Network)
	r.GET("/api/v1/models", h.Models)
	r.GET("/api/v1/stats/provider", authed, h.Provider)
}
