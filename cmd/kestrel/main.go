// Kestrel - Behavioral fraud scoring for card transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/legitimacy"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.LoadConfig()

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"oracle", cfg.Legitimacy.OracleEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	registry := legitimacy.NewRegistry(repo, cfg.Legitimacy)
	if err := registry.Load(ctx); err != nil {
		// Load is retried on first use
		slog.Warn("company registry not loaded", "error", err)
	}
	verifier := legitimacy.Chain{registry}
	if cfg.Legitimacy.OracleEnabled {
		oracle := legitimacy.NewChatOracle(cfg.Legitimacy)
		verifier = append(verifier, legitimacy.NewOracleVerifier(registry, oracle, cacheImpl, cfg.Legitimacy))
		slog.Info("legitimacy oracle enabled", "model", cfg.Legitimacy.OracleModel)
	}

	ruleEngine, err := rules.NewEngine(cfg.Scoring.WorkerCount)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := ruleEngine.LoadRules(rules.DefaultRules()); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	processor := decision.NewProcessor(cfg.Scoring.Threshold)
	recorder := pipeline.NewBusRecorder(busImpl)
	svc := pipeline.NewService(repo,
		scoring.NewEngine(verifier, cfg.Scoring),
		processor,
		cfg.Training,
		pipeline.WithRules(ruleEngine),
		pipeline.WithRecorder(recorder),
	)

	if cfg.Training.RestoreOnStart {
		if err := svc.Restore(ctx); err != nil {
			slog.Error("failed to restore model", "error", err)
		}
	}

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Scoring.WorkerCount}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Pipeline: svc,
		Repo:     repo,
		Verifier: verifier,
		Registry: registry,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Version:  Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_loaded", svc.Artifacts() != nil,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	recorder.Wait()

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - behavioral fraud scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /train               - Train on an uploaded CSV or the default dataset")
	fmt.Println("    POST /predict             - Score a transaction")
	fmt.Println("    GET  /profile             - Active behavioral profile")
	fmt.Println("    GET  /model/report        - Evaluation report of the active model")
	fmt.Println("    GET  /companies/verify    - Check a payee name")
	fmt.Println("    GET  /evaluations/{id}    - Get evaluation by ID")
	fmt.Println("    GET  /transactions/{id}   - Get history transaction by ID")
	fmt.Println("    GET  /health /ready       - Health checks")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
