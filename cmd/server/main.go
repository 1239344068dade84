package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/auth"
	"github.com/Himesh-29/GPUConnect/internal/config"
	"github.com/Himesh-29/GPUConnect/internal/dispatch"
	"github.com/Himesh-29/GPUConnect/internal/handler"
	"github.com/Himesh-29/GPUConnect/internal/job"
	"github.com/Himesh-29/GPUConnect/internal/ledger"
	"github.com/Himesh-29/GPUConnect/internal/middleware"
	"github.com/Himesh-29/GPUConnect/internal/notify"
	"github.com/Himesh-29/GPUConnect/internal/payments"
	"github.com/Himesh-29/GPUConnect/internal/registry"
	"github.com/Himesh-29/GPUConnect/internal/settlement"
	"github.com/Himesh-29/GPUConnect/internal/stats"
	"github.com/Himesh-29/GPUConnect/internal/store"
	"github.com/Himesh-29/GPUConnect/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── Configuration ──
	cfg := config.Load()

	// ── Redis ──
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("connected to Redis at", cfg.RedisAddr)

	// ── SQL Store ──
	dbDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	st, err := store.NewStore(dbDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	log.Printf("database initialised: %s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)

	// ── Domain services ──
	userSvc := auth.NewUserService(st.DB(), cfg.InitialBalance)
	tokenSvc := auth.NewTokenService(st.DB())
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	reg := registry.NewRegistry(st.DB(), cfg.NodeStaleThreshold)
	jobs := job.NewStore(st.DB())
	lg := ledger.New(st.DB())
	settle := settlement.NewEngine(st.DB(), cfg.ProviderShareCents, cfg.RefundOnFailure)
	paySvc := payments.NewService(st.DB())
	statsSvc := stats.NewService(st.DB(), reg, jobs, lg, cfg.ProviderShareCents)

	// ── Notification fan-out ──
	notifier := notify.NewNotifier(rdb)
	composer := notify.NewComposer(notifier, statsSvc)

	// ── WebSocket hub + dashboard ──
	hub := ws.NewHub(tokenSvc, userSvc, reg, settle, composer)
	dashboard := ws.NewDashboard(notifier, statsSvc, userSvc)

	// ── Dispatch router ──
	router := dispatch.NewRouter(st.DB(), reg, hub, cfg.JobCostCents)

	// ── Gin Router ──
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger())

	authed := middleware.JWTAuth(jwtMgr, userSvc)

	authHandler := handler.NewAuthHandler(userSvc, jwtMgr)
	jobHandler := handler.NewJobHandler(router, jobs, composer)
	tokenHandler := handler.NewTokenHandler(tokenSvc)
	statsHandler := handler.NewStatsHandler(statsSvc)
	paymentsHandler := handler.NewPaymentsHandler(paySvc, userSvc, composer)
	wsHandler := handler.NewWSHandler(hub, dashboard, jwtMgr, userSvc, cfg.HeartbeatInterval)

	authHandler.RegisterRoutes(r, authed)
	statsHandler.RegisterRoutes(r, authed)
	wsHandler.RegisterRoutes(r)

	api := r.Group("/api/v1", authed)
	jobHandler.RegisterRoutes(api)
	tokenHandler.RegisterRoutes(api)
	paymentsHandler.RegisterRoutes(api)

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// ── Graceful Shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	rdb.Close()
	log.Println("server exited cleanly")
}
