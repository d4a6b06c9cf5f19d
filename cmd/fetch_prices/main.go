package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vitos/lp_lending_risk/internal/config"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/exchange"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/prices"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	out := flag.String("out", "", "output CSV (default: data.prices_csv)")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	start, end, err := cfg.BybitRange(time.Now())
	if err != nil {
		fmt.Printf("Invalid download range: %v\n", err)
		os.Exit(1)
	}
	path := *out
	if path == "" {
		path = cfg.Data.PricesCSV
	}

	// 2. Download
	bc := cfg.Data.Bybit
	src := exchange.NewBybitKlineSource(bc.BaseURL, bc.Category, bc.Symbol, start, end)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Fetching %s daily klines %s..%s\n", bc.Symbol, start.Format(time.DateOnly), end.Format(time.DateOnly))
	series, err := src.LoadPrices(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to fetch prices: %v\n", err)
		os.Exit(1)
	}

	// 3. Write CSV
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Printf("❌ Failed to create dir: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("❌ Failed to create %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	if err := prices.WriteCSV(f, series); err != nil {
		fmt.Printf("❌ Failed to write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("✅ Wrote %d days to %s (%s..%s)\n", len(series), path,
		series[0].Date.Format(time.DateOnly), series[len(series)-1].Date.Format(time.DateOnly))
}
