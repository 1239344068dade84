package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/notify"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"github.com/Himesh-29/GPUConnect/internal/settlement"
)

// ─────────────────────────────────────────────
// Hub: manages all connected provider nodes
// ─────────────────────────────────────────────

// Hub maintains the set of live node connections and broadcasts job
// dispatches to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // nodeID → Client

	tokens   auth.TokenService
	users    auth.UserService
	registry *registry.Registry
	settle   *settlement.Engine
	composer *notify.Composer
}

// NewHub creates a new Hub.
func NewHub(tokens auth.TokenService, users auth.UserService, reg *registry.Registry, settle *settlement.Engine, composer *notify.Composer) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		tokens:   tokens,
		users:    users,
		registry: reg,
		settle:   settle,
		composer: composer,
	}
}

// Register adds a client to the hub. A reconnect under the same node
// id replaces the previous connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if prev, ok := h.clients[c.NodeID]; ok && prev != c {
		prev.Close()
	}
	h.clients[c.NodeID] = c
	h.mu.Unlock()
	log.Printf("[hub] node %s connected (owner: %s, total: %d)", c.NodeID, c.UserID, h.ClientCount())
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.NodeID] == c {
		delete(h.clients, c.NodeID)
	}
	h.mu.Unlock()
	log.Printf("[hub] node %s disconnected (total: %d)", c.NodeID, h.ClientCount())
}

// ClientCount returns the number of connected nodes.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastJobDispatch sends a job dispatch to every connected node
// except those owned by the job's submitter. Any receiving node may
// execute it; the settlement status gate arbitrates the winner.
func (h *Hub) BroadcastJobDispatch(ctx context.Context, dispatch *model.JobDispatch) {
	env := model.Envelope{
		Type:    model.MsgTypeJobDispatch,
		Payload: dispatch,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[hub] marshal dispatch error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, c := range h.clients {
		if c.UserID == dispatch.OwnerID {
			continue
		}
		select {
		case c.send <- data:
			sent++
		default:
			log.Printf("[hub] send buffer full for node %s, dropping", c.NodeID)
		}
	}
	log.Printf("[hub] broadcast job_dispatch job=%s to %d nodes", dispatch.JobID, sent)
}

// HandleJobResult processes a result submission from a node. The first
// result for a job settles it; later duplicates are ignored by the
// settlement engine.
func (h *Hub) HandleJobResult(ctx context.Context, c *Client, result *model.JobResult) {
	log.Printf("[hub] received result for job=%s from node=%s status=%s",
		result.JobID, c.NodeID, result.Status)

	if result.Status == model.JobResultSuccess {
		settled, err := h.settle.Complete(ctx, result.JobID, c.NodeID, c.UserID, result.Response)
		if err != nil {
			log.Printf("[hub] settle job %s error: %v", result.JobID, err)
			return
		}
		if settled == nil {
			return // duplicate result, already settled
		}
		h.composer.JobChanged(ctx, settled)
		h.pushBalance(ctx, settled.OwnerID)
		h.pushBalance(ctx, c.UserID)
		h.composer.ProviderStatsStale(ctx, c.UserID)
		h.composer.NetworkChanged(ctx)
		return
	}

	failed, err := h.settle.Fail(ctx, result.JobID, c.NodeID, result.Error)
	if err != nil {
		log.Printf("[hub] fail job %s error: %v", result.JobID, err)
		return
	}
	if failed == nil {
		return
	}
	h.composer.JobChanged(ctx, failed)
	h.pushBalance(ctx, failed.OwnerID)
	h.composer.NetworkChanged(ctx)
}

func (h *Hub) pushBalance(ctx context.Context, userID string) {
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		log.Printf("[hub] lookup user %s for balance push error: %v", userID, err)
		return
	}
	h.composer.BalanceChanged(ctx, userID, u.WalletBalance)
}
