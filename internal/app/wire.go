package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vitos/lp_lending_risk/internal/config"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/export"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/pool"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/prices"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/storage"
	"github.com/vitos/lp_lending_risk/internal/usecase"
	"go.uber.org/zap"
)

// Inputs are the price series and position pool shared by every run of a process.
type Inputs struct {
	Series    []domain.PricePoint
	Positions []*domain.Position
}

func LoadInputs(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Inputs, error) {
	return loadInputs(ctx, prices.NewCSVSource(cfg.Data.PricesCSV), pool.NewRandomPool(cfg.Pool), logger)
}

func loadInputs(ctx context.Context, src domain.PriceSeriesProvider, pp domain.PositionPoolProvider, logger *zap.Logger) (*Inputs, error) {
	series, err := src.LoadPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("load prices: %w: empty series", domain.ErrDataUnavailable)
	}
	positions, err := pp.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("create positions: %w", err)
	}

	logger.Info("Inputs loaded",
		zap.Int("days", len(series)),
		zap.Time("first", series[0].Date),
		zap.Time("last", series[len(series)-1].Date),
		zap.Int("positions", len(positions)),
	)
	return &Inputs{Series: series, Positions: positions}, nil
}

// HistorySource resolves the regression training data configured in cfg.
// store may be nil when the csv source is configured.
func HistorySource(cfg *config.Config, store *storage.SQLiteStore) (domain.HealthHistorySource, error) {
	h := cfg.Data.History
	switch h.Source {
	case config.HistorySQLite:
		if store == nil {
			return nil, fmt.Errorf("sqlite history requested without a store")
		}
		return store.History(h.RunID), nil
	default:
		if h.Path != "" {
			return export.NewTimeseriesHistory(h.Path), nil
		}
		if h.RunID != "" {
			return export.NewTimeseriesHistory(filepath.Join(cfg.Output.Dir, h.RunID, export.TimeseriesFile)), nil
		}
		latest, err := export.LatestTimeseriesHistory(cfg.Output.Dir)
		if err != nil {
			return nil, err
		}
		return latest, nil
	}
}

// NewSimulator builds a simulator for one stress configuration. A nil history
// is fine for direct mode; in regression mode it makes the run fall back to
// direct projection.
func NewSimulator(
	ctx context.Context,
	cfg *config.Config,
	stress domain.StressConfig,
	positions []*domain.Position,
	history domain.HealthHistorySource,
	sink domain.ResultSink,
	logger *zap.Logger,
	runID string,
) *usecase.Simulator {
	lender := usecase.NewLendingEngine(cfg.Protocol)
	model := usecase.ResolveRegression(ctx, stress, history, logger)
	projector := usecase.NewStressProjector(stress, lender, model)

	return usecase.NewSimulator(positions, lender, projector, sink, logger, usecase.SimulatorOptions{
		Workers:       cfg.Simulation.Workers,
		DetailLines:   cfg.Simulation.DetailLines,
		ProgressEvery: cfg.Simulation.ProgressEvery,
		RunID:         runID,
	})
}
