package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jcastano/betfleet/config"
	"github.com/jcastano/betfleet/internal/adapters/forecast"
	"github.com/jcastano/betfleet/internal/adapters/notify"
	"github.com/jcastano/betfleet/internal/adapters/storage"
	"github.com/jcastano/betfleet/internal/adapters/venue"
	"github.com/jcastano/betfleet/internal/application/engine"
	"github.com/jcastano/betfleet/internal/application/reconcile"
	"github.com/jcastano/betfleet/internal/domain"
	"github.com/jcastano/betfleet/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle + reconciliation and exit")
	dryRun := flag.Bool("dry-run", false, "evaluate and select but never execute on the venue")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full leaderboard table (default: compact 1-line)")
	resetAgent := flag.String("reset-agent", "", "clear suspension/cooldown for the named agent and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dryRun {
		cfg.Engine.DryRun = true
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	agents, err := restoreAgents(ctx, cfg, ledger)
	if err != nil {
		slog.Error("failed to restore agents", "err", err)
		os.Exit(1)
	}

	if *resetAgent != "" {
		if err := runManualReset(ctx, ledger, agents, *resetAgent); err != nil {
			slog.Error("manual reset failed", "agent", *resetAgent, "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("betfleet starting",
		"config", *configPath,
		"agents", len(agents),
		"cycle_interval", cfg.CycleInterval(),
		"dry_run", cfg.Engine.DryRun,
		"once", *once,
	)

	guard := engine.NewGlobalCapGuard(cfg.Global.DailyLossCap, cfg.Global.ExposureCap)
	openTotal := 0.0
	for _, ag := range agents {
		openTotal += ag.Account.Exposure()
	}
	guard.RestoreExposure(openTotal)

	venueClient := venue.NewClient(cfg.API.VenueBase)
	forecastClient := forecast.NewClient(cfg.API.ForecasterBase)
	notifier := notify.NewConsole(*table)

	eng := engine.New(venueClient, forecastClient, ledger, notifier, guard, agents, engine.Config{
		ProbeSize:         cfg.Engine.ProbeSize,
		FeeRate:           cfg.Engine.FeeRate,
		FetchLimit:        cfg.Engine.FetchLimit,
		TopPerCategory:    cfg.Engine.TopPerCategory,
		ExcludeCategories: cfg.Engine.ExcludeCategories,
		StaleTolerance:    cfg.Engine.StaleTolerance,
		EvalWorkers:       cfg.Engine.EvalWorkers,
		DryRun:            cfg.Engine.DryRun,
	})
	rec := reconcile.New(venueClient, ledger, guard, agents)

	// Cycle and reconciliation never interleave: a settlement applied halfway
	// through an admission pass would race the account snapshots.
	var runMu sync.Mutex
	runCycle := func() {
		runMu.Lock()
		defer runMu.Unlock()
		if _, err := eng.RunCycle(ctx); err != nil {
			slog.Error("cycle failed", "err", err)
			return
		}
		if err := rec.Run(ctx); err != nil {
			slog.Warn("post-cycle reconciliation failed", "err", err)
		}
	}
	runReconcile := func() {
		runMu.Lock()
		defer runMu.Unlock()
		if err := rec.Run(ctx); err != nil {
			slog.Warn("reconciliation failed", "err", err)
		}
	}

	if *once {
		runCycle()
		slog.Info("betfleet stopped cleanly")
		return
	}

	if cfg.Schedule.MetricsAddr != "" {
		go serveMetrics(cfg.Schedule.MetricsAddr)
	}

	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc("@every "+cfg.CycleInterval().String(), runCycle); err != nil {
		slog.Error("failed to register cycle schedule", "err", err)
		os.Exit(1)
	}
	if _, err := sched.AddFunc("@every "+cfg.ReconcileInterval().String(), runReconcile); err != nil {
		slog.Error("failed to register reconcile schedule", "err", err)
		os.Exit(1)
	}
	// Daily budget reset at UTC midnight, for the guard and every tier state.
	if _, err := sched.AddFunc("0 0 * * *", func() {
		guard.ResetDaily()
		now := time.Now()
		for _, ag := range agents {
			ag.WithTier(func(t *domain.TierState) { t.ResetDaily(now) })
			if err := ledger.SaveTierState(ctx, ag.TierState()); err != nil {
				slog.Warn("error saving tier state on daily reset", "agent", ag.ID, "err", err)
			}
		}
		slog.Info("daily budgets reset")
	}); err != nil {
		slog.Error("failed to register daily reset", "err", err)
		os.Exit(1)
	}

	runCycle()
	sched.Start()
	<-ctx.Done()
	sched.Stop()

	slog.Info("betfleet stopped cleanly")
}

// restoreAgents builds the agent set from config and replays each one's bet
// history from the ledger so balances, exposure, and streaks survive restarts.
func restoreAgents(ctx context.Context, cfg *config.Config, ledger *storage.SQLiteLedger) ([]*domain.Agent, error) {
	agents := make([]*domain.Agent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		strategy, err := domain.ParseStrategy(ac.Strategy)
		if err != nil {
			return nil, err
		}
		// The configured name doubles as the stable agent id: ledger rows must
		// survive restarts and config reordering.
		agent := domain.NewAgent(ac.Name, ac.Name, strategy, ac.InitialBalance)

		bets, err := ledger.ListBets(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		agent.Account.Restore(bets)

		ts, err := ledger.LoadTierState(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		if ts != nil {
			agent.SetTierState(*ts)
		} else {
			agent.RecomputeTier(time.Now())
		}

		slog.Info("agent restored",
			"agent", agent.ID,
			"strategy", strategy.String(),
			"balance", agent.Account.Balance(),
			"open_bets", agent.Account.OpenBets(),
			"tier", agent.TierState().Current.String(),
		)
		agents = append(agents, agent)
	}
	return agents, nil
}

// runManualReset clears a suspended or cooling-down agent back to the tier its
// balance implies. Operator-only escape hatch; never called by the engine.
func runManualReset(ctx context.Context, ledger *storage.SQLiteLedger, agents []*domain.Agent, name string) error {
	for _, ag := range agents {
		if ag.ID != name {
			continue
		}
		snap := ag.Account.Snapshot()
		target := domain.TierFor(snap.Balance, snap.InitialBalance)
		ag.WithTier(func(t *domain.TierState) { t.ManualReset(target) })
		if err := ledger.SaveTierState(ctx, ag.TierState()); err != nil {
			return err
		}
		slog.Info("agent manually reset", "agent", name, "tier", target.String())
		return nil
	}
	slog.Error("agent not found in config", "agent", name)
	os.Exit(1)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	slog.Info("metrics listener started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics listener failed", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
