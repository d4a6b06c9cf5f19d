package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/pool"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

// History sources for the regression projection mode.
const (
	HistoryCSV    = "csv"
	HistorySQLite = "sqlite"
)

type Config struct {
	Protocol domain.ProtocolParams `yaml:"protocol"`
	Stress   domain.StressConfig   `yaml:"stress"`
	Pool     pool.Config           `yaml:"pool"`
	Data     struct {
		PricesCSV string `yaml:"prices_csv"`
		// Bybit is the download source for cmd/fetch_prices.
		Bybit struct {
			BaseURL  string `yaml:"base_url"`
			Category string `yaml:"category"`
			Symbol   string `yaml:"symbol"`
			Start    string `yaml:"start"`
			End      string `yaml:"end"`
		} `yaml:"bybit"`
		// History selects the regression training data. An empty Path with
		// the csv source means the latest run under Output.Dir.
		History struct {
			Source string `yaml:"source"`
			Path   string `yaml:"path"`
			RunID  string `yaml:"run_id"`
		} `yaml:"history"`
	} `yaml:"data"`
	Output struct {
		Dir        string `yaml:"dir"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"output"`
	Simulation struct {
		Workers       int            `yaml:"workers"`
		DetailLines   bool           `yaml:"detail_lines"`
		ProgressEvery int            `yaml:"progress_every"`
		CrashWindows  []WindowConfig `yaml:"crash_windows"`
	} `yaml:"simulation"`
	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Server struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"server"`
}

// WindowConfig is a named inclusive date range in YYYY-MM-DD form.
type WindowConfig struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

func Default() *Config {
	var cfg Config
	cfg.Protocol = domain.DefaultProtocolParams()
	cfg.Stress = domain.DefaultStressConfig()
	cfg.Pool = pool.DefaultConfig()
	cfg.Data.PricesCSV = "data/eth_usd_daily.csv"
	cfg.Data.History.Source = HistoryCSV
	cfg.Data.Bybit.BaseURL = "https://api.bybit.com"
	cfg.Data.Bybit.Category = "spot"
	cfg.Data.Bybit.Symbol = "ETHUSDT"
	cfg.Data.Bybit.Start = "2021-01-01"
	cfg.Output.Dir = "output"
	cfg.Output.SQLitePath = "output/runs.db"
	cfg.Simulation.Workers = 4
	cfg.Simulation.DetailLines = true
	cfg.Simulation.ProgressEvery = 100
	cfg.Simulation.CrashWindows = []WindowConfig{
		{Name: "May 2021 Crash", Start: "2021-05-01", End: "2021-06-30"},
		{Name: "FTX Nov 2022", Start: "2022-11-01", End: "2022-11-30"},
	}
	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "console"
	cfg.Server.Port = 8080
	return &cfg
}

// Load reads the YAML file at path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Protocol.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Stress.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Pool.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Data.PricesCSV == "" {
		errs = append(errs, errors.New("data.prices_csv is required"))
	}
	switch c.Data.History.Source {
	case HistoryCSV, HistorySQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown data.history.source %q", c.Data.History.Source))
	}
	if c.Simulation.Workers < 0 {
		errs = append(errs, fmt.Errorf("simulation.workers must not be negative, got %d", c.Simulation.Workers))
	}
	if c.Simulation.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("simulation.progress_every must not be negative, got %d", c.Simulation.ProgressEvery))
	}
	if _, err := c.Windows(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Windows parses the configured crash windows.
func (c *Config) Windows() ([]domain.DateWindow, error) {
	windows := make([]domain.DateWindow, 0, len(c.Simulation.CrashWindows))
	for _, w := range c.Simulation.CrashWindows {
		start, err := time.Parse(time.DateOnly, w.Start)
		if err != nil {
			return nil, fmt.Errorf("window %q start: %w", w.Name, err)
		}
		end, err := time.Parse(time.DateOnly, w.End)
		if err != nil {
			return nil, fmt.Errorf("window %q end: %w", w.Name, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("window %q ends before it starts", w.Name)
		}
		windows = append(windows, domain.DateWindow{Name: w.Name, Start: start, End: end})
	}
	return windows, nil
}

// BybitRange parses the download range. An empty end means today.
func (c *Config) BybitRange(now time.Time) (start, end time.Time, err error) {
	start, err = time.Parse(time.DateOnly, c.Data.Bybit.Start)
	if err != nil {
		return start, end, fmt.Errorf("data.bybit.start: %w", err)
	}
	end = now.UTC().Truncate(24 * time.Hour)
	if c.Data.Bybit.End != "" {
		if end, err = time.Parse(time.DateOnly, c.Data.Bybit.End); err != nil {
			return start, end, fmt.Errorf("data.bybit.end: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("data.bybit range ends before it starts")
	}
	return start, end, nil
}
