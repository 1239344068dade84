package registry

import (
	"context"
	"testing"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRegistry(t *testing.T, stale time.Duration) (*Registry, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Node{}))
	return NewRegistry(db, stale), db
}

func caps(models ...string) model.Capabilities {
	return model.Capabilities{Models: models}
}

func TestRegisterUpsert(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	node, err := reg.Register(ctx, "node-1", "alice", caps("llama3"))
	require.NoError(t, err)
	require.Equal(t, "Node-node-1", node.Name)
	require.True(t, node.IsActive)

	// Re-register updates capabilities in place.
	node, err = reg.Register(ctx, "node-1", "alice", caps("llama3", "mistral"))
	require.NoError(t, err)
	require.Equal(t, []string{"llama3", "mistral"}, node.Capabilities.Models)

	live, err := reg.LiveNodes(ctx, "")
	require.NoError(t, err)
	require.Len(t, live, 1)
}

func TestRegisterOwnershipTakeover(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-1", "alice", caps("llama3"))
	require.NoError(t, err)

	// Any validated credential may claim an existing node id.
	node, err := reg.Register(ctx, "node-1", "bob", caps("llama3"))
	require.NoError(t, err)
	require.Equal(t, "bob", node.OwnerID)
}

func TestLiveNodesExcludesOwner(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-a", "alice", caps("llama3"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, "node-b", "bob", caps("llama3"))
	require.NoError(t, err)

	live, err := reg.LiveNodes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "node-b", live[0].NodeID)

	live, err = reg.LiveNodes(ctx, "")
	require.NoError(t, err)
	require.Len(t, live, 2)
}

func TestStaleSweep(t *testing.T) {
	reg, db := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-1", "alice", caps("llama3"))
	require.NoError(t, err)

	// Backdate the heartbeat past the threshold.
	require.NoError(t, db.Model(&Node{}).
		Where("node_id = ?", "node-1").
		Update("last_heartbeat", time.Now().Add(-time.Minute)).Error)

	live, err := reg.LiveNodes(ctx, "")
	require.NoError(t, err)
	require.Empty(t, live)

	var stored Node
	require.NoError(t, db.First(&stored, "node_id = ?", "node-1").Error)
	require.False(t, stored.IsActive)

	// A fresh heartbeat brings it back only after re-register.
	_, err = reg.Register(ctx, "node-1", "alice", caps("llama3"))
	require.NoError(t, err)
	count, err := reg.ActiveCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestTouch(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	require.ErrorIs(t, reg.Touch(ctx, "ghost"), ErrNodeNotFound)

	_, err := reg.Register(ctx, "node-1", "alice", caps("llama3"))
	require.NoError(t, err)
	require.NoError(t, reg.Touch(ctx, "node-1"))
}

func TestMarkInactiveIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-1", "alice", caps("llama3"))
	require.NoError(t, err)

	require.NoError(t, reg.MarkInactive(ctx, "node-1"))
	require.NoError(t, reg.MarkInactive(ctx, "node-1"))

	count, err := reg.ActiveCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAggregateCapabilities(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-a", "alice", caps("llama3", "mistral"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, "node-b", "bob", caps("llama3"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, "node-c", "carol", caps("phi3"))
	require.NoError(t, err)
	require.NoError(t, reg.MarkInactive(ctx, "node-c"))

	models, err := reg.AggregateCapabilities(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)

	// Sorted by provider count, then name. The inactive node's model is gone.
	require.Equal(t, "llama3", models[0].Name)
	require.Equal(t, 2, models[0].Providers)
	require.Equal(t, "mistral", models[1].Name)
	require.Equal(t, 1, models[1].Providers)
}

func TestNodesByOwner(t *testing.T) {
	reg, _ := newTestRegistry(t, 45*time.Second)
	ctx := context.Background()

	_, err := reg.Register(ctx, "node-a", "alice", caps("llama3"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, "node-b", "alice", caps("llama3"))
	require.NoError(t, err)
	require.NoError(t, reg.MarkInactive(ctx, "node-b"))

	total, active, err := reg.NodesByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, int64(1), active)
}
