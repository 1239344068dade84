package registry

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/model"
	"gorm.io/gorm"
)

var ErrNodeNotFound = errors.New("node not found")

// ─────────────────────────────────────────────
// Node – a registered provider connection.
// ─────────────────────────────────────────────

// Capabilities is the declared model list plus free-form metadata,
// stored as a JSON text column.
type Capabilities model.Capabilities

func (c Capabilities) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

func (c *Capabilities) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = Capabilities{}
		return nil
	default:
		return fmt.Errorf("unsupported capabilities column type %T", value)
	}
}

type Node struct {
	NodeID        string       `json:"node_id" gorm:"primaryKey"`
	OwnerID       string       `json:"owner_id" gorm:"index"`
	Name          string       `json:"name"`
	Capabilities  Capabilities `json:"capabilities" gorm:"type:text"`
	IsActive      bool         `json:"is_active"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ModelAvailability is one entry of the aggregate capability view.
type ModelAvailability struct {
	Name      string   `json:"name"`
	Providers int      `json:"providers"`
	Nodes     []string `json:"nodes,omitempty"`
}

// ─────────────────────────────────────────────
// Registry – tracks provider nodes, ownership and liveness.
// ─────────────────────────────────────────────

type Registry struct {
	db             *gorm.DB
	staleThreshold time.Duration
}

// NewRegistry creates a Registry. Nodes whose last heartbeat is older
// than staleThreshold are treated as dead even if still flagged active.
func NewRegistry(db *gorm.DB, staleThreshold time.Duration) *Registry {
	return &Registry{db: db, staleThreshold: staleThreshold}
}

// Register upserts a node record keyed by nodeID and marks it active.
// Re-registering an existing nodeID updates capabilities and ownership:
// any validated credential may claim a nodeID string. Owner changes are
// logged for audit.
func (r *Registry) Register(ctx context.Context, nodeID, ownerID string, caps model.Capabilities) (*Node, error) {
	now := time.Now()

	var existing Node
	err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	node := Node{
		NodeID:        nodeID,
		OwnerID:       ownerID,
		Name:          "Node-" + nodeID,
		Capabilities:  Capabilities(caps),
		IsActive:      true,
		LastHeartbeat: now,
		UpdatedAt:     now,
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		node.CreatedAt = now
		if err := r.db.WithContext(ctx).Create(&node).Error; err != nil {
			return nil, err
		}
		log.Printf("[registry] created node %s (owner: %s)", nodeID, ownerID)
		return &node, nil
	}

	if existing.OwnerID != ownerID {
		log.Printf("[registry] node %s ownership change: %s -> %s", nodeID, existing.OwnerID, ownerID)
	}
	node.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(&node).Error; err != nil {
		return nil, err
	}
	log.Printf("[registry] updated node %s (owner: %s)", nodeID, ownerID)
	return &node, nil
}

// MarkInactive flags a node inactive. Idempotent; called on disconnect
// and by the stale sweep.
func (r *Registry) MarkInactive(ctx context.Context, nodeID string) error {
	return r.db.WithContext(ctx).Model(&Node{}).
		Where("node_id = ?", nodeID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()}).Error
}

// Touch updates the node's last heartbeat to keep it live.
func (r *Registry) Touch(ctx context.Context, nodeID string) error {
	result := r.db.WithContext(ctx).Model(&Node{}).
		Where("node_id = ?", nodeID).
		Updates(map[string]interface{}{"last_heartbeat": time.Now(), "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// SweepStale force-inactivates nodes whose heartbeat predates the stale
// threshold. Runs lazily before every liveness-sensitive read, so the
// active set self-heals without a dedicated scheduler.
func (r *Registry) SweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleThreshold)
	result := r.db.WithContext(ctx).Model(&Node{}).
		Where("is_active = ? AND last_heartbeat < ?", true, cutoff).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		log.Printf("[registry] stale sweep error: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("[registry] marked %d stale node(s) inactive", result.RowsAffected)
	}
}

// LiveNodes returns nodes that are active and recently heartbeat-alive.
// When excludeOwner is non-empty, that owner's nodes are excluded so a
// consumer cannot be served by their own infrastructure.
func (r *Registry) LiveNodes(ctx context.Context, excludeOwner string) ([]Node, error) {
	r.SweepStale(ctx)

	cutoff := time.Now().Add(-r.staleThreshold)
	q := r.db.WithContext(ctx).
		Where("is_active = ? AND last_heartbeat >= ?", true, cutoff)
	if excludeOwner != "" {
		q = q.Where("owner_id <> ?", excludeOwner)
	}

	var nodes []Node
	if err := q.Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// ActiveCount returns the number of live nodes.
func (r *Registry) ActiveCount(ctx context.Context) (int64, error) {
	r.SweepStale(ctx)

	cutoff := time.Now().Add(-r.staleThreshold)
	var count int64
	err := r.db.WithContext(ctx).Model(&Node{}).
		Where("is_active = ? AND last_heartbeat >= ?", true, cutoff).
		Count(&count).Error
	return count, err
}

// NodesByOwner returns all of an owner's nodes and how many of them are
// currently live.
func (r *Registry) NodesByOwner(ctx context.Context, ownerID string) (total, active int64, err error) {
	r.SweepStale(ctx)

	if err = r.db.WithContext(ctx).Model(&Node{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	cutoff := time.Now().Add(-r.staleThreshold)
	err = r.db.WithContext(ctx).Model(&Node{}).
		Where("owner_id = ? AND is_active = ? AND last_heartbeat >= ?", ownerID, true, cutoff).
		Count(&active).Error
	return total, active, err
}

// AggregateCapabilities recomputes the model → provider-count view from
// the live set. Recomputed on demand, never maintained incrementally.
func (r *Registry) AggregateCapabilities(ctx context.Context) ([]ModelAvailability, error) {
	nodes, err := r.LiveNodes(ctx, "")
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*ModelAvailability)
	for _, node := range nodes {
		for _, name := range node.Capabilities.Models {
			if name == "" {
				continue
			}
			entry, ok := byName[name]
			if !ok {
				entry = &ModelAvailability{Name: name}
				byName[name] = entry
			}
			entry.Providers++
			entry.Nodes = append(entry.Nodes, node.NodeID)
		}
	}

	out := make([]ModelAvailability, 0, len(byName))
	for _, entry := range byName {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Providers != out[j].Providers {
			return out[i].Providers > out[j].Providers
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
