package handler

import (
	"errors"
	"net/http"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	appctx "github.com/Himesh-29/GPUConnect/internal/context"
	"github.com/gin-gonic/gin"
)

// TokenHandler manages agent tokens for provider nodes.
type TokenHandler struct {
	tokens auth.TokenService
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(tokens auth.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// ─────────────────────────────────────────────
// POST /api/v1/tokens
// ─────────────────────────────────────────────

type CreateTokenRequest struct {
	Label string `json:"label"`
}

// Create issues a new agent token. The raw secret appears in this
// response only; afterwards just its hash exists.
func (h *TokenHandler) Create(c *gin.Context) {
	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Label == "" {
		req.Label = "default"
	}

	record, raw, err := h.tokens.Generate(c.Request.Context(), appctx.GetUserID(c), req.Label)
	if err != nil {
		if errors.Is(err, auth.ErrTokenLimit) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":  record,
		"secret": raw,
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/tokens
// ─────────────────────────────────────────────

// List returns the caller's active tokens (hashes withheld).
func (h *TokenHandler) List(c *gin.Context) {
	tokens, err := h.tokens.List(c.Request.Context(), appctx.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "count": len(tokens)})
}

// ─────────────────────────────────────────────
// POST /api/v1/tokens/:id/revoke
// ─────────────────────────────────────────────

// Revoke deactivates one of the caller's tokens. Connections that
// registered with it are closed on the next keep-alive check.
func (h *TokenHandler) Revoke(c *gin.Context) {
	err := h.tokens.Revoke(c.Request.Context(), appctx.GetUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, auth.ErrTokenGone) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found or already revoked"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token revocation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// RegisterRoutes registers token routes on an authenticated group.
func (h *TokenHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/tokens", h.Create)
	g.GET("/tokens", h.List)
	g.POST("/tokens/:id/revoke", h.Revoke)
}
