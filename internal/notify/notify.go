package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/stats"
	"github.com/redis/go-redis/v9"
)

// ─────────────────────────────────────────────
// Dashboard fan-out over Redis pub/sub.
//
// Events are published to a public topic (network-wide state) and to
// per-user topics (jobs, balances). The dashboard websocket layer
// subscribes and forwards verbatim, so every payload here is the final
// wire format.
// ─────────────────────────────────────────────

const (
	EventStatsUpdate          = "stats_update"
	EventModelsUpdate         = "models_update"
	EventJobUpdate            = "job_update"
	EventBalanceUpdate        = "balance_update"
	EventRefreshProviderStats = "refresh_provider_stats"
)

// Event is the envelope every dashboard message travels in.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Publisher delivers dashboard events. Implemented by Notifier; tests
// substitute a recorder.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *Event)
}

// Notifier publishes dashboard events through Redis.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish marshals and publishes one event. Delivery failures are
// logged and swallowed: dashboards are advisory, settlement must never
// block on them.
func (n *Notifier) Publish(ctx context.Context, topic string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[notify] marshal %s error: %v", event.Type, err)
		return
	}
	if err := n.rdb.Publish(ctx, topic, data).Err(); err != nil {
		log.Printf("[notify] publish %s to %s error: %v", event.Type, topic, err)
	}
}

// Subscribe opens a Redis subscription on the given topics.
func (n *Notifier) Subscribe(ctx context.Context, topics ...string) *redis.PubSub {
	return n.rdb.Subscribe(ctx, topics...)
}

// ─────────────────────────────────────────────
// Composer: turns domain changes into dashboard events
// ─────────────────────────────────────────────

// Composer recomputes dashboard payloads after domain changes and fans
// them out through a Publisher.
type Composer struct {
	pub   Publisher
	stats *stats.Service
}

func NewComposer(pub Publisher, st *stats.Service) *Composer {
	return &Composer{pub: pub, stats: st}
}

// NetworkChanged pushes fresh network stats and model availability to
// the public topic. Called on node connect/disconnect and job
// completion.
func (c *Composer) NetworkChanged(ctx context.Context) {
	ns, err := c.stats.Network(ctx)
	if err != nil {
		log.Printf("[notify] network stats error: %v", err)
		return
	}
	c.pub.Publish(ctx, model.TopicPublic, &Event{Type: EventStatsUpdate, Data: ns})

	models, err := c.stats.Models(ctx)
	if err != nil {
		log.Printf("[notify] model availability error: %v", err)
		return
	}
	c.pub.Publish(ctx, model.TopicPublic, &Event{Type: EventModelsUpdate, Data: models})
}

// JobChanged pushes the job's new state to its owner.
func (c *Composer) JobChanged(ctx context.Context, j *job.Job) {
	if j == nil {
		return
	}
	c.pub.Publish(ctx, model.UserTopic(j.OwnerID), &Event{Type: EventJobUpdate, Data: j})
}

// BalanceChanged pushes a wallet balance update to one user.
func (c *Composer) BalanceChanged(ctx context.Context, userID string, balanceCents int64) {
	c.pub.Publish(ctx, model.UserTopic(userID), &Event{
		Type: EventBalanceUpdate,
		Data: map[string]string{"balance": model.FormatCredits(balanceCents)},
	})
}

// ProviderStatsStale tells a provider's dashboard to re-fetch its
// earnings report.
func (c *Composer) ProviderStatsStale(ctx context.Context, userID string) {
	c.pub.Publish(ctx, model.UserTopic(userID), &Event{Type: EventRefreshProviderStats})
}
