// Latchkey - Reward-time policy engine for learning apps.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/latchkey-dev/latchkey/internal/aggregate"
	"github.com/latchkey-dev/latchkey/internal/api"
	"github.com/latchkey-dev/latchkey/internal/bus"
	"github.com/latchkey-dev/latchkey/internal/cache"
	"github.com/latchkey-dev/latchkey/internal/domain"
	"github.com/latchkey-dev/latchkey/internal/ledger"
	"github.com/latchkey-dev/latchkey/internal/limits"
	"github.com/latchkey-dev/latchkey/internal/repository"
	"github.com/latchkey-dev/latchkey/internal/rules"
	"github.com/latchkey-dev/latchkey/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// historyWindow bounds how far back attempt history is fetched when
// hydrating behavior criteria.
const historyWindow = 30 * 24 * time.Hour

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("LATCHKEY_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting latchkey",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("LATCHKEY_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"ledger", cfg.Ledger.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Usage Ledger
	usageLedger, err := ledger.New(cfg.Ledger)
	if err != nil {
		slog.Error("failed to initialize usage ledger", "error", err)
		os.Exit(1)
	}
	defer usageLedger.Close()
	slog.Info("usage ledger initialized", "driver", cfg.Ledger.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine with attempt-history hydration
	engine := rules.NewEngine(historyGetter(repo))

	// Load rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize evaluation pipeline
	orchestrator := rules.NewOrchestrator(engine, limits.New(usageLedger), aggregate.New(), logger)
	slog.Info("evaluation pipeline initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("LATCHKEY_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, orchestrator)

		var familyIDs []string
		if envFamilies := os.Getenv("LATCHKEY_FAMILIES"); envFamilies != "" {
			familyIDs = strings.Split(envFamilies, ",")
		}

		if err := asyncWorker.Start(worker.Config{FamilyIDs: familyIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "family_count", len(familyIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, orchestrator, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("latchkey is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
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

	slog.Info("latchkey shutdown complete")
}

// historyGetter adapts the repository to the engine's history hook,
// mapping stored attempts to performance entries.
func historyGetter(repo domain.Repository) rules.HistoryGetter {
	return func(ctx context.Context, familyID, userID string, since time.Time, limit int) ([]domain.PerformanceEntry, error) {
		if since.IsZero() {
			since = time.Now().UTC().Add(-historyWindow)
		}

		attempts, err := repo.GetAttemptsByUser(ctx, familyID, userID, since)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(attempts) > limit {
			attempts = attempts[:limit]
		}

		entries := make([]domain.PerformanceEntry, 0, len(attempts))
		for _, a := range attempts {
			entries = append(entries, domain.PerformanceEntry{
				Score:     a.Context.Score,
				Subject:   a.Context.Subject,
				Timestamp: a.Context.CompletedAt,
			})
		}
		return entries, nil
	}
}

// loadRulesFromDatabase loads shared rules into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRules(ctx, domain.GlobalFamilyID, true)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🔑 LATCHKEY                 ║")
	fmt.Println("  ║     Reward-Time Policy Engine             ║")
	fmt.Println("  ║      Earned screen time, by the rules.    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate          - Evaluate a graded attempt")
	fmt.Println("    GET  /evaluations/{id}  - Get evaluation by ID")
	fmt.Println("    GET  /attempts/{id}     - Get attempt by ID")
	fmt.Println("    GET  /rules             - List unlock rules")
	fmt.Println("    POST /rules             - Create an unlock rule")
	fmt.Println("    DELETE /rules/{id}      - Deactivate an unlock rule")
	fmt.Println("    POST /rules/validate    - Validate a rule without saving")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
