package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/vitos/lp_lending_risk/internal/config"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	runID := flag.String("run", "", "print the days of one run")
	limit := flag.Int("limit", 20, "number of runs to list")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.Output.SQLitePath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	if *runID != "" {
		days, err := store.ListDays(ctx, *runID)
		if err != nil {
			fmt.Printf("Failed to list days: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Run %s: %d days\n", *runID, len(days))
		for _, d := range days {
			if d.LiquidationCount == 0 {
				continue
			}
			fmt.Printf("- %s close=%.2f change=%+.2f%% liquidations=%d avg_hf=%s\n",
				d.Date.Format(time.DateOnly), d.ClosePrice, d.PriceChangePct, d.LiquidationCount, hf(d.AvgHealthFactor))
		}
		return
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list runs: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d runs:\n", len(runs))
	for _, r := range runs {
		state := "finished"
		if r.FinishedAt.IsZero() {
			state = "incomplete"
		}
		fmt.Printf("- %s [%s/%s, %s] days=%d positions=%d liquidations=%d unique=%d avg_hf=%s\n",
			r.RunID, r.Policy, r.Mode, state, r.TotalDates, r.TotalPositions,
			r.TotalLiquidationsAll, r.UniquePositionsEverLiquidated, hf(r.AvgHealthFactorAll))
	}
}

func hf(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", v)
}
