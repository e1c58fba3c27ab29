package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"github.com/catherinevee/costopt/internal/classification"
	"github.com/catherinevee/costopt/internal/config"
	"github.com/catherinevee/costopt/internal/cost"
	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/jobs"
	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/pipeline"
	"github.com/catherinevee/costopt/internal/storage"
	"github.com/catherinevee/costopt/internal/webhook"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if command == "version" {
		fmt.Printf("costopt %s\n", version)
		return
	}
	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return
	}

	if err := run(command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	flags := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config file")
	metadataFile := flags.String("metadata", "", "JSON file of metadata records to load")
	costsFile := flags.String("costs", "", "JSON file of cost records to load")
	benchmarksFile := flags.String("benchmarks", "", "JSON file of benchmarks to load")
	webhookURL := flags.String("webhook-url", "", "webhook URL (approve)")
	actor := flags.String("by", "cli", "acting user recorded on approvals and dismissals")
	reason := flags.String("reason", "", "dismissal reason")
	workers := flags.Bool("jobs", false, "start the background job queue (run)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger.Initialize(cfg.Logging)

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()

	switch command {
	case "run":
		if err := app.seed(ctx, *metadataFile, *costsFile, *benchmarksFile); err != nil {
			return err
		}
		return app.runPipeline(ctx, *workers, cfg)
	case "report":
		return app.report(ctx)
	case "trends":
		if err := app.seed(ctx, *metadataFile, *costsFile, *benchmarksFile); err != nil {
			return err
		}
		return app.trends(ctx, cfg.Analysis.TrendGranularity)
	case "rules":
		return app.printRules()
	case "approve":
		id, err := parseID(flags.Args())
		if err != nil {
			return err
		}
		return app.approve(ctx, id, *actor, *webhookURL)
	case "dismiss":
		id, err := parseID(flags.Args())
		if err != nil {
			return err
		}
		return app.dismiss(ctx, id, *actor, *reason)
	case "deliver":
		id, err := parseID(flags.Args())
		if err != nil {
			return err
		}
		return app.deliver(ctx, id)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// app wires the stores, engines, and services for one invocation
type app struct {
	memory      *storage.MemoryStore
	sqlite      *storage.SQLiteStore
	benchmarks  storage.BenchmarkStore
	cache       *storage.CachedBenchmarkStore
	classifier  *classification.Service
	analyzer    *cost.Analyzer
	decisionSvc *decisions.Service
	engine      *decisions.Engine
	ruleWatcher *decisions.Watcher
	pipe        *pipeline.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	memory := storage.NewMemoryStore()

	sqlite, err := storage.NewSQLiteStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	var benchmarks storage.BenchmarkStore = memory
	var cache *storage.CachedBenchmarkStore
	if cfg.Redis.Enabled {
		cache, err = storage.NewCachedBenchmarkStore(memory, cfg.Redis.Cache)
		if err != nil {
			sqlite.Close()
			return nil, err
		}
		benchmarks = cache
	}

	classifier := classification.NewService(classification.NewEngine(), memory, memory)
	analyzer := cost.NewAnalyzer()
	engine := decisions.NewEngine()

	var watcher *decisions.Watcher
	if cfg.Decisions.RulesFile != "" {
		if cfg.Decisions.HotReload {
			watcher, err = decisions.NewWatcher(engine, cfg.Decisions.RulesFile)
			if err != nil {
				sqlite.Close()
				return nil, err
			}
		} else {
			ruleSet, err := decisions.LoadRulesFile(cfg.Decisions.RulesFile)
			if err != nil {
				sqlite.Close()
				return nil, err
			}
			engine.SetRules(ruleSet)
		}
	}

	deliverer := webhook.NewDeliverer(cfg.Webhook, nil)
	decisionSvc := decisions.NewService(engine, sqlite, sqlite.WebhookLogs(), deliverer)
	pipe := pipeline.New(classifier, analyzer, decisionSvc, memory, benchmarks)
	pipe.SetAnomalyThreshold(decimal.NewFromFloat(cfg.Analysis.AnomalyThresholdPct))

	return &app{
		memory:      memory,
		sqlite:      sqlite,
		benchmarks:  benchmarks,
		cache:       cache,
		classifier:  classifier,
		analyzer:    analyzer,
		decisionSvc: decisionSvc,
		engine:      engine,
		ruleWatcher: watcher,
		pipe:        pipe,
	}, nil
}

func (a *app) Close() {
	if a.ruleWatcher != nil {
		a.ruleWatcher.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	a.sqlite.Close()
}

func (a *app) runPipeline(ctx context.Context, startJobs bool, cfg *config.Config) error {
	var queue *jobs.Queue
	if startJobs {
		queue = jobs.NewQueue(cfg.Jobs.Workers,
			jobs.WithRetryDelay(cfg.Jobs.RetryDelay),
			jobs.WithJobTimeout(cfg.Jobs.JobTimeout))
		jobs.RegisterClassificationBatchHandler(queue, a.classifier)
		jobs.RegisterDecisionGenerationHandler(queue, a.pipe)
		jobs.RegisterWebhookRetryHandler(queue, a.decisionSvc)
		jobs.RegisterRetentionCleanupHandler(queue, a.sqlite)
		defer queue.Shutdown(ctx)
	}

	result, err := a.pipe.Run(ctx)
	if err != nil {
		return err
	}

	printRunReport(result)
	return nil
}

func (a *app) approve(ctx context.Context, id int64, actor, webhookURL string) error {
	decision, err := a.decisionSvc.Approve(ctx, id, actor, webhookURL)
	if err != nil {
		return err
	}
	fmt.Printf("Decision %d approved by %s (webhook status: %s)\n",
		decision.ID, actor, decision.WebhookStatus)
	return nil
}

func (a *app) dismiss(ctx context.Context, id int64, actor, reason string) error {
	decision, err := a.decisionSvc.Dismiss(ctx, id, actor, reason)
	if err != nil {
		return err
	}
	fmt.Printf("Decision %d dismissed by %s\n", decision.ID, actor)
	return nil
}

func (a *app) deliver(ctx context.Context, id int64) error {
	logs, err := a.decisionSvc.DeliverWebhook(ctx, id)
	for _, l := range logs {
		status := color.GreenString(l.Status)
		if l.Status != "success" {
			status = color.RedString(l.Status)
		}
		fmt.Printf("  attempt %d: %s (%dms) %s\n", l.AttemptNumber, status, l.DurationMs, l.ErrorMessage)
	}
	return err
}

func parseID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("decision ID required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decision ID %q", args[0])
	}
	return id, nil
}

func printUsage() {
	fmt.Println("costopt - cloud cost optimization recommendations")
	fmt.Println()
	fmt.Println("Usage: costopt <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Printf("  %s       Load fixtures, classify, analyze, and generate decisions\n", color.CyanString("run"))
	fmt.Printf("  %s    Show decision and classification statistics\n", color.CyanString("report"))
	fmt.Printf("  %s    Show cost totals by calendar period\n", color.CyanString("trends"))
	fmt.Printf("  %s     Show the active decision rule table\n", color.CyanString("rules"))
	fmt.Printf("  %s   Approve a decision and trigger its webhook\n", color.CyanString("approve"))
	fmt.Printf("  %s   Dismiss a decision\n", color.CyanString("dismiss"))
	fmt.Printf("  %s   Re-deliver a decision's webhook\n", color.CyanString("deliver"))
	fmt.Printf("  %s   Print the version\n", color.CyanString("version"))
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <file>      YAML configuration file")
	fmt.Println("  -metadata <file>    JSON metadata records (run)")
	fmt.Println("  -costs <file>       JSON cost records (run)")
	fmt.Println("  -benchmarks <file>  JSON benchmarks (run)")
	fmt.Println("  -jobs               start the background job queue (run)")
}
