package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agentstore/trustgate/internal/adapter/endpoint"
	tghttp "github.com/agentstore/trustgate/internal/adapter/http"
	"github.com/agentstore/trustgate/internal/adapter/litellm"
	tgnats "github.com/agentstore/trustgate/internal/adapter/nats"
	tgotel "github.com/agentstore/trustgate/internal/adapter/otel"
	"github.com/agentstore/trustgate/internal/adapter/postgres"
	"github.com/agentstore/trustgate/internal/adapter/ristretto"
	"github.com/agentstore/trustgate/internal/adapter/ws"
	"github.com/agentstore/trustgate/internal/artifact"
	"github.com/agentstore/trustgate/internal/config"
	"github.com/agentstore/trustgate/internal/judge"
	"github.com/agentstore/trustgate/internal/logger"
	"github.com/agentstore/trustgate/internal/port/messagequeue"
	"github.com/agentstore/trustgate/internal/resilience"
	"github.com/agentstore/trustgate/internal/service"
)

const cardCacheSize = 64 << 20 // 64 MB

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"panel_enabled", cfg.Panel.Enabled,
		"dry_run", cfg.Execution.DryRun,
	)

	ctx := context.Background()

	// --- Observability ---
	shutdownTracer, err := tgotel.InitTracer(ctx, cfg.Logging.Service, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := tgnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Agent card cache
	cardCache, err := ristretto.New(cardCacheSize)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cardCache.Close()

	// --- Judges ---
	llmClient := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	llmClient.SetBreaker(resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	heuristic := judge.NewHeuristic(cfg.Heuristic.Seed, cfg.Heuristic.NoiseSpread)
	singleModel := judge.NewSingleModel(cfg.Judge, llmClient, log)
	panel := judge.NewPanel(cfg.Panel, cfg.Judge, llmClient, log)
	orchestrator := judge.NewOrchestrator(heuristic, singleModel, panel, cfg.Scoring, log)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	dispatcher := endpoint.NewDispatcher(cfg.Execution.Timeout, cfg.Execution.DryRun)
	artifacts := artifact.NewWriter(cfg.Artifacts.Dir)

	submissionSvc := service.NewSubmissionService(store, queue, cardCache, log)
	pipeline := service.NewPipeline(store, queue, hub, dispatcher, orchestrator, artifacts, *cfg, log)

	// Pipeline worker: processes queued submissions.
	cancelWorker, err := queue.Subscribe(ctx, messagequeue.SubjectSubmissionProcess,
		func(ctx context.Context, _ string, data []byte) error {
			var req messagequeue.ProcessRequest
			if err := json.Unmarshal(data, &req); err != nil {
				slog.Error("bad process request", "error", err)
				return nil // unparsable, do not redeliver
			}
			return pipeline.ProcessSubmission(ctx, req.SubmissionID)
		})
	if err != nil {
		return fmt.Errorf("pipeline subscriber: %w", err)
	}
	defer cancelWorker()

	// --- HTTP ---
	handlers := &tghttp.Handlers{
		Submissions: submissionSvc,
		LiteLLM:     llmClient,
	}

	r := chi.NewRouter()

	r.Use(tghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tghttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(cfg, queue))
	r.Get("/ws", hub.HandleWS)
	tghttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "trustgate"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	if err := queue.Drain(); err != nil {
		slog.Warn("queue drain failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config, queue *tgnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status  string `json:"status"`
		NATS    bool   `json:"nats"`
		LiteLLM string `json:"litellm"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:  "ok",
			NATS:    queue.IsConnected(),
			LiteLLM: cfg.LiteLLM.URL,
		}
		if !status.NATS {
			status.Status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
