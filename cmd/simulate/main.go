package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vitos/lp_lending_risk/internal/app"
	"github.com/vitos/lp_lending_risk/internal/config"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/export"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/logger"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/metrics"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/storage"
	"github.com/vitos/lp_lending_risk/internal/usecase"
	"github.com/vitos/lp_lending_risk/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	policy := flag.String("policy", "", "override stress.policy")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *policy != "" {
		cfg.Stress.Policy = domain.StressPolicy(*policy)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("Invalid policy override: %v\n", err)
			os.Exit(1)
		}
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Storage
	for _, dir := range []string{cfg.Output.Dir, filepath.Dir(cfg.Output.SQLitePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create output dir", zap.String("dir", dir), zap.Error(err))
		}
	}
	store, err := storage.NewSQLiteStore(cfg.Output.SQLitePath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Load prices and positions
	inputs, err := app.LoadInputs(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to load inputs", zap.Error(err))
	}

	// 5. Regression history is optional; without it regression mode runs direct.
	var history domain.HealthHistorySource
	if cfg.Stress.Mode == domain.ModeRegression {
		if history, err = app.HistorySource(cfg, store); err != nil {
			log.Warn("No regression history available", zap.Error(err))
		}
	}

	// 6. Sinks
	promSink := metrics.NewSink()
	hub := web.NewHub(log)
	go hub.Run(ctx)
	exporter := export.NewRunExporter(cfg.Output.Dir, log)
	sink := usecase.MultiSink{exporter, store, promSink, hub}

	// 7. Web server, started before the run so progress can be watched live
	var server *web.Server
	if cfg.Server.Enabled {
		server = web.NewServer(cfg.Server.Port, store, hub, promSink.Handler(), log)
		go func() {
			if err := server.Start(); err != nil {
				log.Fatal("Server failed", zap.Error(err))
			}
		}()
	}

	// 8. Full run
	runID := usecase.NewRunID(time.Now())
	sim := app.NewSimulator(ctx, cfg, cfg.Stress, inputs.Positions, history, sink, log, runID)
	result, err := sim.Run(ctx, inputs.Series)
	if err != nil {
		log.Fatal("Simulation failed", zap.Error(err))
	}
	fmt.Print(export.FormatSummary(result.Summary))
	fmt.Printf("Output: %s\n", exporter.RunDir(runID))

	// 9. Crash windows
	windows, _ := cfg.Windows()
	reports, err := sim.RunWindows(ctx, inputs.Series, windows)
	if err != nil {
		log.Fatal("Window analysis failed", zap.Error(err))
	}
	for _, r := range reports {
		fmt.Printf("%-20s | days %4d | liquidations %6d | unique %5d | liquidation days %4d\n",
			r.Window.Name, r.Summary.TotalDates, r.Summary.TotalLiquidationsAll,
			r.Summary.UniquePositionsEverLiquidated, r.Summary.DaysWithLiquidations)
	}

	if server == nil {
		return
	}

	// 10. Keep serving until shutdown
	log.Info("Run complete, serving results", zap.Int("port", cfg.Server.Port))
	<-ctx.Done()

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
