package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Himesh-29/GPUConnect/internal/agent/joblog"
	"github.com/Himesh-29/GPUConnect/internal/agent/runner"
	"github.com/Himesh-29/GPUConnect/internal/agent/ws"
	"github.com/Himesh-29/GPUConnect/internal/model"
)

const (
	// Job queue buffer size
	JobQueueSize = 100

	// Number of concurrent job processors
	WorkerCount = 2
)

// Agent is a provider node daemon: it holds the connection to the
// dispatch server, executes broadcast jobs on the local inference
// backend and reports results.
type Agent struct {
	nodeID    string
	authToken string
	serverURL string
	models    []string
	runner    *runner.Runner
	joblog    *joblog.DB
	wsClient  *ws.Client
	jobQueue  chan *model.JobDispatch
	done      chan struct{}
	wg        sync.WaitGroup
	fatal     chan error // closed connection we will not recover from

	mu      sync.Mutex
	running map[string]struct{} // job ids currently executing
}

// New creates an agent from resolved configuration.
func New(nodeID, authToken, serverURL string, models []string, run *runner.Runner, jl *joblog.DB) *Agent {
	return &Agent{
		nodeID:    nodeID,
		authToken: authToken,
		serverURL: serverURL,
		models:    models,
		runner:    run,
		joblog:    jl,
		jobQueue:  make(chan *model.JobDispatch, JobQueueSize),
		done:      make(chan struct{}),
		fatal:     make(chan error, 1),
		running:   make(map[string]struct{}),
	}
}

// Fatal reports unrecoverable termination (auth rejection).
func (a *Agent) Fatal() <-chan error {
	return a.fatal
}

// Start connects to the server and starts processing jobs
func (a *Agent) Start(ctx context.Context) error {
	a.wsClient = ws.NewClient(ctx, a.serverURL, a.nodeID, a.authToken, model.Capabilities{
		Models: a.models,
	}, a)

	if stats, err := a.joblog.GetAggregateStats(); err != nil {
		a.logf("failed to load job history: %v", err)
	} else {
		a.logf("job history: %d total, %d succeeded, %d today",
			stats.TotalJobs, stats.Succeeded, stats.TodayJobs)
	}

	if err := a.wsClient.Connect(); err != nil {
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	for range WorkerCount {
		a.wg.Add(1)
		go a.jobProcessor(ctx)
	}

	return nil
}

// Stop gracefully shuts down the agent. The job queue stays open so a
// dispatch racing the shutdown is dropped, never a send on a closed
// channel.
func (a *Agent) Stop() error {
	close(a.done)
	a.wg.Wait()
	if a.wsClient == nil {
		return nil
	}
	return a.wsClient.Close()
}

// ─────────────────────────────────────────────
// WebSocket Message Handlers (implements ws.MessageHandler)
// ─────────────────────────────────────────────

// OnRegistered confirms the server accepted our agent token.
func (a *Agent) OnRegistered(reg *model.Registered) {
	a.logf("registered with server (owner: %s)", reg.Owner)
}

// OnJobDispatch handles a broadcast job. Another node may win the
// race; the server simply ignores the losing results.
func (a *Agent) OnJobDispatch(ctx context.Context, dispatch *model.JobDispatch) {
	if !a.supports(dispatch.Model) {
		a.logf("skipping job %s (model %s not offered)", dispatch.JobID, dispatch.Model)
		return
	}

	select {
	case <-a.done:
		a.logf("shutting down, dropping job %s", dispatch.JobID)
	case a.jobQueue <- dispatch:
		a.logf("queued job %s (model: %s)", dispatch.JobID, dispatch.Model)
	default:
		a.logf("job queue full, dropping job %s", dispatch.JobID)
	}
}

// OnAuthError handles a token rejection. The credential is gone, so
// there is nothing to reconnect with.
func (a *Agent) OnAuthError(reason string) {
	a.logf("server rejected credentials: %s", reason)
	select {
	case a.fatal <- fmt.Errorf("authentication rejected: %s", reason):
	default:
	}
}

// OnConnected handles WebSocket connection established
func (a *Agent) OnConnected() {
	a.logf("connected to server")
}

// OnDisconnected handles WebSocket disconnection
func (a *Agent) OnDisconnected() {
	a.logf("disconnected from server")
}

// ─────────────────────────────────────────────
// Job Processing
// ─────────────────────────────────────────────

func (a *Agent) jobProcessor(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case dispatch := <-a.jobQueue:
			a.processJob(ctx, dispatch)
		}
	}
}

func (a *Agent) processJob(ctx context.Context, dispatch *model.JobDispatch) {
	a.mu.Lock()
	if _, dup := a.running[dispatch.JobID]; dup {
		a.mu.Unlock()
		return
	}
	a.running[dispatch.JobID] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.running, dispatch.JobID)
		a.mu.Unlock()
	}()

	a.logf("processing job %s (model: %s)", dispatch.JobID, dispatch.Model)
	start := time.Now()

	response, err := a.runner.Generate(ctx, dispatch.Model, dispatch.Prompt)
	elapsed := time.Since(start)

	result := &model.JobResult{JobID: dispatch.JobID}
	if err != nil {
		a.logf("job %s failed after %v: %v", dispatch.JobID, elapsed, err)
		result.Status = model.JobResultFailed
		result.Error = err.Error()
	} else {
		a.logf("job %s completed in %v", dispatch.JobID, elapsed)
		result.Status = model.JobResultSuccess
		result.Response = response
	}

	if err := a.wsClient.SendJobResult(result); err != nil {
		a.logf("failed to send result for job %s: %v", dispatch.JobID, err)
	}

	if err := a.joblog.Insert(&joblog.Entry{
		JobID:      dispatch.JobID,
		Model:      dispatch.Model,
		Success:    result.Status == model.JobResultSuccess,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}); err != nil {
		a.logf("failed to log job %s: %v", dispatch.JobID, err)
	}
}

// ─────────────────────────────────────────────
// Helper functions
// ─────────────────────────────────────────────

func (a *Agent) supports(modelName string) bool {
	for _, m := range a.models {
		if m == modelName {
			return true
		}
	}
	return false
}

// logf logs a message with the [agent] prefix
func (a *Agent) logf(format string, args ...interface{}) {
	log.Printf("[agent] "+format, args...)
}
