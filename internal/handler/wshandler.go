package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler upgrades node and dashboard websocket connections.
type WSHandler struct {
	hub       *ws.Hub
	dashboard *ws.Dashboard
	jwtMgr    *auth.JWTManager
	userSvc   auth.UserService
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint handlers.
func NewWSHandler(hub *ws.Hub, dashboard *ws.Dashboard, jwtMgr *auth.JWTManager, userSvc auth.UserService, keepAlive time.Duration) *WSHandler {
	return &WSHandler{
		hub:       hub,
		dashboard: dashboard,
		jwtMgr:    jwtMgr,
		userSvc:   userSvc,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ─────────────────────────────────────────────
// GET /ws/node  (Provider node WebSocket)
// ─────────────────────────────────────────────

// Node upgrades the connection and runs the node session. The agent
// token travels in the register message, not the HTTP request, so the
// upgrade itself is unauthenticated.
func (h *WSHandler) Node(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[handler] node websocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn, h.hub, h.keepAlive)
	client.Run(c.Request.Context())
}

// ─────────────────────────────────────────────
// GET /ws/dashboard?token=<jwt>  (Browser dashboard WebSocket)
// ─────────────────────────────────────────────

// Dashboard upgrades the connection and runs a dashboard session.
// A valid session token attaches the user's private topic; without one
// the session only sees public network state.
func (h *WSHandler) Dashboard(c *gin.Context) {
	var user *auth.User
	if raw := c.Query("token"); raw != "" {
		userID, err := h.jwtMgr.Verify(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		user, err = h.userSvc.GetByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[handler] dashboard websocket upgrade error: %v", err)
		return
	}

	h.dashboard.Serve(c.Request.Context(), conn, user)
}

// ─────────────────────────────────────────────
// GET /api/v1/health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *WSHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"connected_nodes": h.hub.ClientCount(),
	})
}

// RegisterRoutes registers websocket and health routes.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/v1/health", h.Health)
	r.GET("/ws/node", h.Node)
	r.GET("/ws/dashboard", h.Dashboard)
}
