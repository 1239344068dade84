package handler

import (
	"errors"
	"net/http"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	appctx "github.com/Himesh-29/GPUConnect/internal/context"
	"github.com/Himesh-29/GPUConnect/internal/notify"
	"github.com/Himesh-29/GPUConnect/internal/payments"
	"github.com/gin-gonic/gin"
)

// PaymentsHandler handles wallet deposits and withdrawals.
type PaymentsHandler struct {
	payments *payments.Service
	users    auth.UserService
	composer *notify.Composer
}

// NewPaymentsHandler creates a new PaymentsHandler.
func NewPaymentsHandler(svc *payments.Service, users auth.UserService, composer *notify.Composer) *PaymentsHandler {
	return &PaymentsHandler{payments: svc, users: users, composer: composer}
}

// ─────────────────────────────────────────────
// POST /api/v1/deposits
// ─────────────────────────────────────────────

type CreateDepositRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	Type        string `json:"type"` // DEPOSIT (default) | WITHDRAWAL
	GatewayID   string `json:"gateway_id"`
}

// Create records a pending transaction awaiting gateway confirmation.
func (h *PaymentsHandler) Create(c *gin.Context) {
	var req CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txType := payments.TxDeposit
	if req.Type == string(payments.TxWithdrawal) {
		txType = payments.TxWithdrawal
	}
	if req.GatewayID == "" {
		req.GatewayID = "manual"
	}

	txn, err := h.payments.Create(c.Request.Context(), appctx.GetUserID(c), req.AmountCents, txType, req.GatewayID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction creation failed"})
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// ─────────────────────────────────────────────
// POST /api/v1/deposits/:id/process
// ─────────────────────────────────────────────

// Process finalises a pending transaction. Replays are rejected as
// not-pending; a declined withdrawal reports 402.
func (h *PaymentsHandler) Process(c *gin.Context) {
	ctx := c.Request.Context()
	userID := appctx.GetUserID(c)

	txn, err := h.payments.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, payments.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction lookup failed"})
		return
	}
	if txn.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your transaction"})
		return
	}

	err = h.payments.Process(ctx, txn.ID)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient funds"})
		return
	case errors.Is(err, payments.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "transaction already processed"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction processing failed"})
		return
	}

	if u, uerr := h.users.GetByID(ctx, userID); uerr == nil {
		h.composer.BalanceChanged(ctx, userID, u.WalletBalance)
	}

	final, err := h.payments.Get(ctx, txn.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction lookup failed"})
		return
	}
	c.JSON(http.StatusOK, final)
}

// RegisterRoutes registers payment routes on an authenticated group.
func (h *PaymentsHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/deposits", h.Create)
	g.POST("/deposits/:id/process", h.Process)
}
