package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lookback/internal/adapter/analysis"
	"lookback/internal/adapter/capture"
	"lookback/internal/adapter/gateway"
	"lookback/internal/adapter/ipc"
	"lookback/internal/adapter/store"
	"lookback/internal/domain"
	"lookback/internal/infra/config"
	"lookback/internal/infra/logger"
	"lookback/internal/infra/tracer"
	"lookback/internal/usecase/eventbus"
	"lookback/internal/usecase/pipeline"
	"lookback/internal/usecase/recorder"
	"lookback/internal/usecase/scheduling"
)

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runHost(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "once":
		if err := runOnce(); err != nil {
			fmt.Fprintf(os.Stderr, "once: %v\n", err)
			os.Exit(1)
		}
	case "stats":
		if err := runStats(); err != nil {
			fmt.Fprintf(os.Stderr, "stats: %v\n", err)
			os.Exit(1)
		}
	case "export":
		if err := runExport(); err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			os.Exit(1)
		}
	case "latest":
		if err := runLatest(); err != nil {
			fmt.Fprintf(os.Stderr, "latest: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'lookback --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`lookback - Screen activity recorder with AI analysis

USAGE:
    lookback [COMMAND] [FLAGS]

COMMANDS:
    once        Run a single capture-analyze-store cycle and print the result
    stats       Print activity statistics
    export      Dump all recorded activities as JSON
                Usage: lookback export [FILE]   (default: stdout)
    latest      Print the path of the most recent screenshot

    (no command) - Run as a native messaging host on stdin/stdout

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: LOOKBACK_* variables override config
                 (LOOKBACK_API_KEY, LOOKBACK_MODEL, LOOKBACK_INTERVAL, ...)

NOTES:
    In host mode, stdout carries length-prefixed JSON frames for the browser
    extension. All logs go to stderr.`)
}

func configPath() string {
	// Check --config flag in os.Args.
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("LOOKBACK_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// components holds everything runHost and the subcommands wire up.
type components struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *eventbus.Bus
	store    *store.SQLiteActivityStore
	shotter  *capture.LocalScreenshotter
	engine   *pipeline.Engine
	settings *recorder.SettingsStore
	coord    *recorder.Coordinator
	dispatch *recorder.Dispatcher
	cleanup  []func()
}

func (c *components) close() {
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
}

// build loads config and assembles the full recording stack.
func build(ctx context.Context) (*components, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	c := &components{cfg: cfg, log: log}
	c.cleanup = append(c.cleanup, func() { logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	c.cleanup = append(c.cleanup, func() { tracerShutdown(context.Background()) })

	bus := eventbus.New(log)
	c.bus = bus
	c.cleanup = append(c.cleanup, func() { bus.Close() })

	activityStore, err := store.NewSQLiteActivityStore(cfg.Store.Path)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("store: %w", err)
	}
	c.store = activityStore
	c.cleanup = append(c.cleanup, func() { activityStore.Close() })

	shotter, err := capture.NewLocalScreenshotter(
		cfg.Recorder.ScreenshotDir, cfg.Recorder.CaptureCommand, cfg.Recorder.CaptureTimeout, log)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("capture: %w", err)
	}
	c.shotter = shotter

	c.settings = recorder.NewSettingsStore(domain.Settings{
		Interval:  cfg.Recorder.Interval,
		APIKey:    cfg.Analysis.APIKey,
		ModelName: cfg.Analysis.Model,
	})

	var analyzer domain.AnalysisService = analysis.NewDashScopeClient(cfg.Analysis, c.settings, log)
	if cfg.Analysis.CircuitBreaker.Enabled {
		analyzer = analysis.NewCircuitBreakerService(analyzer, cfg.Analysis.CircuitBreaker, log)
	}

	c.engine = pipeline.New(shotter, analyzer, activityStore, pipeline.Config{
		KeepLastN:     cfg.Recorder.KeepLastN,
		RetentionDays: cfg.Recorder.RetentionDays,
	}, log)

	c.coord = recorder.New(c.engine, bus, c.settings, cfg.Recorder.CaptureTimeout, log)
	c.dispatch = recorder.NewDispatcher(c.coord, activityStore, analyzer, c.settings, bus, log)

	return c, nil
}

// runHost is the default mode: serve the browser extension over stdin/stdout.
func runHost() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	if c.cfg.Maintenance.Enabled {
		sched := scheduling.NewScheduler(c.log)
		sched.RegisterAction(scheduling.ActionPruneActivities, func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -c.cfg.Recorder.RetentionDays)
			removed, err := c.store.Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			if removed > 0 {
				c.log.Info("maintenance pruned activities", "removed", removed)
			}
			return nil
		})
		sched.RegisterAction(scheduling.ActionTrimScreenshots, func(context.Context) error {
			return c.shotter.RetainLatest(c.cfg.Recorder.KeepLastN)
		})
		sched.RegisterAction(scheduling.ActionCheckpointDatabase, func(ctx context.Context) error {
			return c.store.Checkpoint(ctx)
		})
		for _, task := range []scheduling.MaintenanceTask{
			{Name: "prune-activities", Schedule: c.cfg.Maintenance.Schedule, Action: scheduling.ActionPruneActivities},
			{Name: "trim-screenshots", Schedule: c.cfg.Maintenance.Schedule, Action: scheduling.ActionTrimScreenshots},
			{Name: "checkpoint-db", Schedule: c.cfg.Maintenance.Schedule, Action: scheduling.ActionCheckpointDatabase},
		} {
			if err := sched.AddTask(task); err != nil {
				return fmt.Errorf("maintenance: %w", err)
			}
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
		defer sched.Stop()
	}

	if c.cfg.Gateway.Enabled {
		gw := gateway.NewServer(c.dispatch, c.bus, c.cfg.Gateway.Addr, c.log)
		go func() {
			if err := gw.Start(ctx); err != nil {
				c.log.Error("gateway server error", "error", err)
			}
		}()
	}

	host := ipc.NewHost(os.Stdin, os.Stdout, c.dispatch, c.log)

	// Push cycle results to the extension as they land.
	unsub := c.bus.Subscribe(domain.EventCycleCompleted, func(event domain.Event) {
		res, ok := event.Payload.(domain.CycleResult)
		if !ok {
			return
		}
		resp := domain.OKResponse("cycle_completed")
		summary := res.Summary()
		resp.Activity = &summary
		if err := host.WriteResponse(resp); err != nil {
			c.log.Warn("failed to push cycle result", "error", err)
		}
	})
	defer unsub()

	err = host.Run(ctx)
	c.coord.Shutdown(c.cfg.Recorder.ShutdownGrace)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runOnce executes one cycle and prints its result.
func runOnce() error {
	ctx := context.Background()
	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	res := c.engine.RunCycle(ctx)
	if !res.Success {
		fmt.Printf("cycle failed: %s\n", res.Error)
		return nil
	}
	fmt.Printf("%s  %s\n", res.Timestamp, res.Description)
	return nil
}

// runStats prints aggregate activity statistics.
func runStats() error {
	ctx := context.Background()
	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	stats, err := c.store.Statistics(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("total activities:    %d\n", stats.TotalActivities)
	fmt.Printf("successful analyses: %d\n", stats.SuccessfulAnalyses)
	fmt.Printf("failed analyses:     %d\n", stats.FailedAnalyses)
	fmt.Printf("success rate:        %.2f%%\n", stats.SuccessRate)
	if stats.FirstActivity != "" {
		fmt.Printf("first activity:      %s\n", stats.FirstActivity)
		fmt.Printf("last activity:       %s\n", stats.LastActivity)
	}

	recent, err := c.store.Recent(ctx, 5)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println("\nrecent:")
		for _, r := range recent {
			desc := r.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Printf("  %s  %s\n", r.Timestamp, desc)
		}
	}
	return nil
}

// runLatest prints the newest screenshot on disk.
func runLatest() error {
	c, err := build(context.Background())
	if err != nil {
		return err
	}
	defer c.close()

	shot, ok, err := c.shotter.Latest()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no screenshots recorded")
		return nil
	}
	fmt.Println(shot.Path)
	return nil
}

// runExport dumps all activities as JSON to a file or stdout.
func runExport() error {
	ctx := context.Background()
	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	out := os.Stdout
	if len(os.Args) >= 3 && !strings.HasPrefix(os.Args[2], "-") {
		f, err := os.Create(os.Args[2])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return c.store.Export(ctx, out)
}
