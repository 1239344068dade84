package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/Himesh-29/GPUConnect/internal/model"
	"github.com/Himesh-29/GPUConnect/internal/notify"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"github.com/Himesh-29/GPUConnect/internal/settlement"
	"github.com/Himesh-29/GPUConnect/internal/stats"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, *notify.Event) {}

type wireEnvelope struct {
	Type    model.MsgType   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T) (*Hub, *gorm.DB, auth.TokenService) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// The hub and the test touch the DB from different goroutines; a
	// second pooled connection to :memory: would be a different database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&auth.User{}, &auth.AgentToken{}, &registry.Node{}, &job.Job{}, &ledger.CreditLog{}))

	users := auth.NewUserService(db, 10000)
	tokens := auth.NewTokenService(db)
	reg := registry.NewRegistry(db, 45*time.Second)
	settle := settlement.NewEngine(db, 100, false)
	statsSvc := stats.NewService(db, reg, job.NewStore(db), ledger.New(db), 100)
	composer := notify.NewComposer(nopPublisher{}, statsSvc)

	return NewHub(tokens, users, reg, settle, composer), db, tokens
}

func TestKeepAliveDisconnectsRevokedToken(t *testing.T) {
	hub, db, tokens := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&auth.User{
		ID: "bob", Email: "b@x.io", Nickname: "bob", WalletBalance: 10000, Status: "active",
	}).Error)
	token, secret, err := tokens.Generate(ctx, "bob", "default")
	require.NoError(t, err)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(conn, hub, 25*time.Millisecond).Run(r.Context())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(model.Envelope{
		Type: model.MsgTypeRegister,
		Payload: model.RegisterRequest{
			NodeID:       "node-1",
			AuthToken:    secret,
			Capabilities: model.Capabilities{Models: []string{"llama3"}},
		},
	}))

	var env wireEnvelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, model.MsgTypeRegistered, env.Type)

	require.NoError(t, tokens.Revoke(ctx, "bob", token.ID))

	// The next keep-alive tick re-validates the token, pushes auth_error
	// and closes the connection. Pings may arrive first.
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == model.MsgTypeAuthError {
			break
		}
		require.Equal(t, model.MsgTypePing, env.Type)
	}

	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		var n registry.Node
		if err := db.Where("node_id = ?", "node-1").First(&n).Error; err != nil {
			return false
		}
		return !n.IsActive
	}, 2*time.Second, 20*time.Millisecond)
}
