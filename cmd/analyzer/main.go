package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitos/lp_lending_risk/internal/app"
	"github.com/vitos/lp_lending_risk/internal/config"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/logger"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/storage"
	"github.com/vitos/lp_lending_risk/internal/usecase"
	"go.uber.org/zap"
)

var stressPolicies = []domain.StressPolicy{
	domain.PolicyThresholdShift,
	domain.PolicyLoanShrink,
	domain.PolicySlidingLTV,
}

// WindowComparison is one policy comparison restricted to a crash window.
type WindowComparison struct {
	Window     string                   `json:"window"`
	Comparison usecase.PolicyComparison `json:"comparison"`
}

type Report struct {
	Overall []usecase.PolicyComparison `json:"overall"`
	Windows []WindowComparison         `json:"windows"`
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputs, err := app.LoadInputs(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to load inputs", zap.Error(err))
	}
	windows, _ := cfg.Windows()

	var history domain.HealthHistorySource
	if cfg.Stress.Mode == domain.ModeRegression {
		var store *storage.SQLiteStore
		if cfg.Data.History.Source == config.HistorySQLite {
			if store, err = storage.NewSQLiteStore(cfg.Output.SQLitePath); err != nil {
				log.Fatal("Failed to open store", zap.Error(err))
			}
			defer store.Close()
		}
		if history, err = app.HistorySource(cfg, store); err != nil {
			log.Warn("No regression history available", zap.Error(err))
		}
	}

	run := func(policy domain.StressPolicy) (domain.RunSummary, []domain.WindowReport) {
		stress := cfg.Stress
		stress.Policy = policy
		sim := app.NewSimulator(ctx, cfg, stress, inputs.Positions, history, nil, log, string(policy))
		res, err := sim.Run(ctx, inputs.Series)
		if err != nil {
			log.Fatal("Simulation failed", zap.String("policy", string(policy)), zap.Error(err))
		}
		reports, err := sim.RunWindows(ctx, inputs.Series, windows)
		if err != nil {
			log.Fatal("Window analysis failed", zap.String("policy", string(policy)), zap.Error(err))
		}
		return res.Summary, reports
	}

	baseline, baseWindows := run(domain.PolicyNone)

	var report Report
	for _, p := range stressPolicies {
		summary, reports := run(p)
		report.Overall = append(report.Overall, usecase.ComparePolicies(baseline, summary))
		for i, r := range reports {
			report.Windows = append(report.Windows, WindowComparison{
				Window:     r.Window.Name,
				Comparison: usecase.ComparePolicies(baseWindows[i].Summary, r.Summary),
			})
		}
	}

	if *asJSON {
		// Infinite averages cannot be encoded; they only occur when nothing borrowed.
		for i := range report.Overall {
			sanitize(&report.Overall[i])
		}
		for i := range report.Windows {
			sanitize(&report.Windows[i].Comparison)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal("Failed to encode report", zap.Error(err))
		}
		return
	}

	fmt.Printf("\nPolicy comparison against fixed LTV %.2f (%d positions, %d days):\n",
		cfg.Protocol.LTVMax, len(inputs.Positions), len(inputs.Series))
	printHeader("Policy")
	for _, c := range report.Overall {
		printRow(string(c.Stressed.Policy), c)
	}

	if len(report.Windows) > 0 {
		fmt.Printf("\nCrash windows:\n")
		printHeader("Window / Policy")
		for _, w := range report.Windows {
			printRow(w.Window+" / "+string(w.Comparison.Stressed.Policy), w.Comparison)
		}
	}
}

func printHeader(first string) {
	fmt.Printf("%-36s | %-12s | %-12s | %-10s | %-12s | %s\n",
		first, "Liq. base", "Liq. policy", "Reduction", "Liq. days", "Avg LTV")
	fmt.Println("------------------------------------------------------------------------------------------------------")
}

func printRow(name string, c usecase.PolicyComparison) {
	fmt.Printf("%-36s | %-12d | %-12d | %-9.1f%% | %4d -> %-4d | %.3f\n",
		name, c.Baseline.TotalLiquidationsAll, c.Stressed.TotalLiquidationsAll, c.LiquidationReductionPct,
		c.Baseline.DaysWithLiquidations, c.Stressed.DaysWithLiquidations, c.Stressed.AvgEffectiveLTVAll)
}

func sanitize(c *usecase.PolicyComparison) {
	for _, s := range []*domain.RunSummary{&c.Baseline, &c.Stressed} {
		if math.IsInf(s.AvgHealthFactorAll, 0) {
			s.AvgHealthFactorAll = 0
		}
	}
}
