package domain

import "context"

// PriceSeriesProvider supplies the ordered daily price series for a run.
type PriceSeriesProvider interface {
	LoadPrices(ctx context.Context) ([]PricePoint, error)
}

// PositionPoolProvider supplies the fixed pool of positions simulated for a run.
type PositionPoolProvider interface {
	Positions(ctx context.Context) ([]*Position, error)
}

// HealthRegression predicts the average health factor for a price move in percent.
type HealthRegression interface {
	Predict(priceChangePct float64) float64
}

// HealthObservation is one historical (price change, average HF) sample.
type HealthObservation struct {
	PriceChangePct  float64
	AvgHealthFactor float64
}

// HealthHistorySource supplies training data for the regression projection mode.
type HealthHistorySource interface {
	HealthHistory(ctx context.Context) ([]HealthObservation, error)
}

// ResultSink consumes simulation output. Lines is nil unless detailed
// per-position output was requested.
type ResultSink interface {
	BeginRun(ctx context.Context, summary RunSummary) error
	WriteDay(ctx context.Context, runID string, day DayRecord, lines []PositionLine) error
	EndRun(ctx context.Context, summary RunSummary) error
}

// RunAborter is implemented by sinks that hold resources for a run in
// progress. AbortRun is called instead of EndRun when a run stops early.
type RunAborter interface {
	AbortRun(ctx context.Context, runID string, cause error) error
}

// RunRepository reads back stored runs.
type RunRepository interface {
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	GetRun(ctx context.Context, runID string) (*RunSummary, error)
	ListDays(ctx context.Context, runID string) ([]DayRecord, error)
	ListPositionLines(ctx context.Context, runID string, date string) ([]PositionLine, error)
}
