package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/notify"
	"github.com/Himesh-29/GPUConnect/internal/stats"
	"github.com/gorilla/websocket"
)

// ─────────────────────────────────────────────
// Dashboard socket: server → browser push
// ─────────────────────────────────────────────

const (
	dashPongWait   = 60 * time.Second
	dashPingPeriod = (dashPongWait * 9) / 10
)

// Dashboard runs authenticated browser sessions that receive live
// state pushes.
type Dashboard struct {
	notifier *notify.Notifier
	stats    *stats.Service
	users    auth.UserService
}

func NewDashboard(n *notify.Notifier, st *stats.Service, users auth.UserService) *Dashboard {
	return &Dashboard{notifier: n, stats: st, users: users}
}

// Serve runs one dashboard session until the browser disconnects. The
// session receives the public topic and, when user is non-nil, the
// user's private topic.
func (d *Dashboard) Serve(ctx context.Context, conn *websocket.Conn, user *auth.User) {
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	topics := []string{model.TopicPublic}
	if user != nil {
		topics = append(topics, model.UserTopic(user.ID))
	}
	sub := d.notifier.Subscribe(sessionCtx, topics...)
	defer sub.Close()

	send := make(chan []byte, sendBufSize)

	// Forward pub/sub traffic into the send queue.
	go func() {
		for msg := range sub.Channel() {
			select {
			case send <- []byte(msg.Payload):
			default:
				log.Printf("[dashboard] send buffer full, dropping %d bytes", len(msg.Payload))
			}
		}
	}()

	d.sendSnapshot(sessionCtx, send, user)

	// Write pump.
	go func() {
		ticker := time.NewTicker(dashPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case data := <-send:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Read pump: the browser only ever sends small control requests.
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(dashPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(dashPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(dashPongWait))
		d.handleRequest(sessionCtx, send, user, raw)
	}
}

// sendSnapshot pushes the initial state so the dashboard renders
// without waiting for the first change event.
func (d *Dashboard) sendSnapshot(ctx context.Context, send chan<- []byte, user *auth.User) {
	if ns, err := d.stats.Network(ctx); err == nil {
		d.push(send, &notify.Event{Type: notify.EventStatsUpdate, Data: ns})
	}
	if models, err := d.stats.Models(ctx); err == nil {
		d.push(send, &notify.Event{Type: notify.EventModelsUpdate, Data: models})
	}
	if user != nil {
		d.push(send, &notify.Event{
			Type: notify.EventBalanceUpdate,
			Data: map[string]string{"balance": model.FormatCredits(user.WalletBalance)},
		})
		if jobs, err := d.stats.RecentJobs(ctx, user.ID, 20); err == nil {
			d.push(send, &notify.Event{Type: "jobs_snapshot", Data: jobs})
		}
		if report, err := d.stats.Provider(ctx, user, 0); err == nil {
			d.push(send, &notify.Event{Type: "provider_stats", Data: report})
		}
	}
}

func (d *Dashboard) handleRequest(ctx context.Context, send chan<- []byte, user *auth.User, raw []byte) {
	var req struct {
		Type string `json:"type"`
		Days int    `json:"days"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	switch req.Type {
	case "subscribe_provider_stats":
		if user == nil {
			return
		}
		// Re-read the user so the snapshot carries the current balance.
		fresh, err := d.users.GetByID(ctx, user.ID)
		if err != nil {
			log.Printf("[dashboard] user %s reload error: %v", user.ID, err)
			return
		}
		report, err := d.stats.Provider(ctx, fresh, req.Days)
		if err != nil {
			log.Printf("[dashboard] provider stats for %s error: %v", user.ID, err)
			return
		}
		d.push(send, &notify.Event{Type: "provider_stats", Data: report})
	}
}

func (d *Dashboard) push(send chan<- []byte, event *notify.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case send <- data:
	default:
	}
}
