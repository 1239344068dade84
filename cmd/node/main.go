package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Himesh-29/GPUConnect/internal/agent"
	"github.com/Himesh-29/GPUConnect/internal/agent/config"
	"github.com/Himesh-29/GPUConnect/internal/agent/joblog"
	"github.com/Himesh-29/GPUConnect/internal/agent/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting node %s", cfg.Node.ID)
	log.Printf("Connecting to server: %s", cfg.Server.URL)
	log.Printf("Offering models: %v", cfg.Runner.Models)

	jl, err := joblog.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open job log: %v", err)
	}
	defer jl.Close()

	run := runner.New(cfg.Runner.URL, cfg.RunnerTimeout())

	a := agent.New(cfg.Node.ID, cfg.Node.Token, cfg.Server.URL, cfg.Runner.Models, run, jl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	log.Printf("Node started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Printf("Shutting down...")
	case err := <-a.Fatal():
		log.Printf("Fatal: %v", err)
	}

	cancel()
	if err := a.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Node stopped")
}
