package handler

import (
	"errors"
	"net/http"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	appctx "github.com/Himesh-29/GPUConnect/internal/context"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication and account endpoints.
type AuthHandler struct {
	userSvc auth.UserService
	jwtMgr  *auth.JWTManager
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(userSvc auth.UserService, jwtMgr *auth.JWTManager) *AuthHandler {
	return &AuthHandler{userSvc: userSvc, jwtMgr: jwtMgr}
}

// ─────────────────────────────────────────────
// POST /api/v1/auth/register
// ─────────────────────────────────────────────

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname"`
}

type AuthResponse struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`
}

// Register handles user registration via email.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userSvc.Register(c.Request.Context(), req.Email, req.Password, req.Nickname)
	if err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	token, err := h.jwtMgr.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session issue failed"})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{User: user, Token: token})
}

// ─────────────────────────────────────────────
// POST /api/v1/auth/login
// ─────────────────────────────────────────────

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles user login via email + password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := h.jwtMgr.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session issue failed"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{User: user, Token: token})
}

// ─────────────────────────────────────────────
// GET /api/v1/me
// ─────────────────────────────────────────────

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, appctx.MustGetUser(c))
}

// ─────────────────────────────────────────────
// GET /api/v1/me/balance
// ─────────────────────────────────────────────

// Balance returns the authenticated user's wallet balance.
func (h *AuthHandler) Balance(c *gin.Context) {
	user := appctx.MustGetUser(c)
	c.JSON(http.StatusOK, gin.H{
		"balance_cents": user.WalletBalance,
		"balance":       model.FormatCredits(user.WalletBalance),
	})
}

// RegisterRoutes registers auth routes on the Gin engine.
func (h *AuthHandler) RegisterRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	authGroup := r.Group("/api/v1/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
	}

	me := r.Group("/api/v1/me", authed)
	{
		me.GET("", h.Me)
		me.GET("/balance", h.Balance)
	}
}
