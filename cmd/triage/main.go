package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"review-triage/internal/client"
	"review-triage/internal/collector"
	"review-triage/internal/config"
	"review-triage/internal/conflict"
	"review-triage/internal/fusion"
	"review-triage/internal/learned"
	"review-triage/internal/pipeline"
	"review-triage/internal/planner"
	"review-triage/internal/rules"
	"review-triage/internal/scan"
	"review-triage/internal/session"
	"review-triage/internal/storage"
	"review-triage/internal/units"
)

func main() {

	// Load .env before config so LLM_API_KEY and friends are visible
	_ = godotenv.Load()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging with configurable level, format, and output
	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	// Ctrl-C cancels the run; collection, planner and scan all honor ctx
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional Prometheus listener
	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen)
	}

	// Learned rules feed the rule engine; watch picks up miner output
	learnedStore, err := learned.NewStore(cfg.LearnedRulesPath())
	if err != nil {
		slog.Error("init learned rules failed", "error", err)
		os.Exit(1)
	}
	defer learnedStore.Close()
	if cfg.LearnedRules.Watch {
		if err := learnedStore.Watch(); err != nil {
			slog.Warn("learned rule watch unavailable", "error", err)
		}
	}

	sessions := session.NewStore(cfg.SessionsDir())

	// Initialize storage
	var repo storage.Repository
	if cfg.Storage.Driver == "sqlite" {
		repo, err = storage.NewSQLiteRepository(cfg.StorageDSN(), cfg.IntentCache.TTL)
		if err != nil {
			slog.Error("init storage failed", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
	} else if cfg.Storage.Driver != "" {
		slog.Warn("unknown storage driver", "driver", cfg.Storage.Driver)
	}

	// Create LLM once at startup. A failed ping is not fatal: the planner
	// degrades to rule-only fusion at run time.
	llmClient := client.NewLLM(cfg.Planner)
	if checker, ok := llmClient.(interface{ Ping(context.Context) error }); ok {
		if err := checker.Ping(ctx); err != nil {
			slog.Warn("planner health check failed, continuing", "error", err)
		}
	}

	plan, err := planner.New(cfg.Planner, llmClient)
	if err != nil {
		slog.Error("init planner failed", "error", err)
		os.Exit(1)
	}
	if cfg.IntentCache.Enabled && repo != nil {
		plan = planner.WithIntentCache(plan, repo)
	}

	// Static scan side service
	registry := scan.NewRegistry(cfg.Scan)
	scanCache := scan.NewCache(cfg.Scan.Cache)
	scanner := scan.NewService(cfg.Scan, registry, scanCache)

	projectRoot, err := os.Getwd()
	if err != nil {
		slog.Error("resolve working directory failed", "error", err)
		os.Exit(1)
	}

	triage := pipeline.New(cfg, pipeline.Deps{
		Source:       collector.New(cfg.Diff, projectRoot),
		Units:        units.NewBuilder(cfg.Diff.ContextRadius, projectRoot),
		Engine:       rules.NewEngine(learnedStore),
		Planner:      plan,
		Scanner:      scanner,
		Fuser:        fusion.NewFuser(),
		Sessions:     sessions,
		Repo:         repo,
		ConflictsDir: cfg.ConflictsDir(),
		ProjectRoot:  projectRoot,
	})

	sum, err := triage.Run(ctx)
	if err != nil {
		slog.Error("triage run failed", "error", err)
		os.Exit(1)
	}

	printSummary(sum)
	housekeeping(ctx, cfg, sum.SessionID, repo)
}

// printSummary writes the fused plan to stdout and logs the run roll-up,
// including what the scan covered and why files were skipped.
func printSummary(sum *pipeline.Summary) {
	out, err := json.MarshalIndent(sum.Plan, "", "  ")
	if err != nil {
		slog.Error("marshal plan failed", "error", err)
	} else {
		fmt.Println(string(out))
	}

	attrs := []any{
		"session_id", sum.SessionID,
		"run_id", sum.RunID,
		"mode", sum.Mode,
		"units", sum.UnitCount,
		"plan_items", len(sum.Plan.Plan),
		"conflicts", sum.Conflicts,
		"rule_only", sum.RuleOnly,
		"duration", sum.Duration.Round(time.Millisecond),
	}
	if sum.Scan != nil {
		attrs = append(attrs,
			"files_scanned", fmt.Sprintf("%d/%d", sum.Scan.FilesScanned, sum.Scan.FilesTotal),
			"scanners", strings.Join(sum.Scan.ScannersUsed, ","),
			"issues", len(sum.Scan.Issues),
		)
		for reason, n := range sum.Scan.Skipped {
			attrs = append(attrs, "skipped_"+reason, n)
		}
	}
	slog.Info("triage summary", attrs...)
}

// housekeeping applies retention after the run: conflict files by age then
// count, intent cache rows by TTL.
func housekeeping(ctx context.Context, cfg *config.Config, sessionID string, repo storage.Repository) {
	tracker := conflict.NewTracker(cfg.ConflictsDir(), sessionID)
	if _, err := tracker.Cleanup(cfg.Conflicts.MaxAgeDays, cfg.Conflicts.MaxCount); err != nil {
		slog.Warn("conflict cleanup failed", "error", err)
	}
	if repo != nil {
		if _, err := repo.PruneIntents(ctx); err != nil {
			slog.Warn("intent cache prune failed", "error", err)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listener starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics listener failed", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			// Use lumberjack for log rotation
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
