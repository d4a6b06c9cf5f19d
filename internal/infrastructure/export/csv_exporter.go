package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"go.uber.org/zap"
)

const (
	DailyRecordsDir = "daily_records"
	TimeseriesFile  = "liquidation_timeseries.csv"
	SummaryFile     = "summary.txt"
)

var timeseriesHeader = []string{
	"date", "open_price", "close_price", "price_change", "number_of_liquidations",
	"average_health_factor", "unique_liquidated", "average_effective_ltv",
	"reductions_applied", "average_worst_projected_hf", "repaid_total", "collateral_taken_total",
}

var dailyHeader = []string{
	"position_id", "seed_price", "position_value_at_seed", "loan_amount",
	"close_price", "position_value_at_close", "hold_value",
	"impermanent_loss", "impermanent_loss_pct",
	"health_factor", "should_liquidate", "repay_amount", "collateral_to_take",
	"provisional_loan", "worst_projected_hf", "liquidation_threshold",
}

// RunExporter writes every run into its own directory under baseDir:
//
//	<baseDir>/<run id>/daily_records/trading_day_YYYYMMDD.csv
//	<baseDir>/<run id>/liquidation_timeseries.csv
//	<baseDir>/<run id>/summary.txt
//
// Daily files are only written when the simulator passes position lines.
type RunExporter struct {
	baseDir string
	logger  *zap.Logger

	mu   sync.Mutex
	runs map[string]*runFiles
}

type runFiles struct {
	dir        string
	timeseries *os.File
	writer     *csv.Writer
}

func NewRunExporter(baseDir string, logger *zap.Logger) *RunExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunExporter{baseDir: baseDir, logger: logger, runs: make(map[string]*runFiles)}
}

// RunDir returns the directory a run is exported to.
func (e *RunExporter) RunDir(runID string) string {
	return filepath.Join(e.baseDir, runID)
}

func (e *RunExporter) BeginRun(_ context.Context, summary domain.RunSummary) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.runs[summary.RunID]; ok {
		return fmt.Errorf("run %s already started", summary.RunID)
	}

	dir := e.RunDir(summary.RunID)
	if err := os.MkdirAll(filepath.Join(dir, DailyRecordsDir), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, TimeseriesFile))
	if err != nil {
		return fmt.Errorf("create timeseries: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(timeseriesHeader); err != nil {
		f.Close()
		return err
	}

	e.runs[summary.RunID] = &runFiles{dir: dir, timeseries: f, writer: w}
	e.logger.Info("Exporting run", zap.String("run_id", summary.RunID), zap.String("dir", dir))
	return nil
}

func (e *RunExporter) WriteDay(_ context.Context, runID string, day domain.DayRecord, lines []domain.PositionLine) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rf, ok := e.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	if lines != nil {
		if err := writeDailyFile(rf.dir, day.Date, lines); err != nil {
			return err
		}
	}

	return rf.writer.Write([]string{
		day.Date.Format(time.DateOnly),
		money(day.OpenPrice),
		money(day.ClosePrice),
		money(day.PriceChangePct),
		strconv.Itoa(day.LiquidationCount),
		ratio(day.AvgHealthFactor),
		strconv.Itoa(day.UniqueLiquidatedToday),
		fixed(day.AvgEffectiveLTV, 4),
		strconv.Itoa(day.ReductionsApplied),
		ratio(day.AvgWorstProjectedHF),
		money(day.RepaidTotal),
		money(day.CollateralTakenTotal),
	})
}

func (e *RunExporter) EndRun(_ context.Context, summary domain.RunSummary) error {
	e.mu.Lock()
	rf, ok := e.runs[summary.RunID]
	delete(e.runs, summary.RunID)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, summary.RunID)
	}

	rf.writer.Flush()
	if err := rf.writer.Error(); err != nil {
		rf.timeseries.Close()
		return fmt.Errorf("flush timeseries: %w", err)
	}
	if err := rf.timeseries.Close(); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(rf.dir, SummaryFile), []byte(FormatSummary(summary)), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	e.logger.Info("Run exported", zap.String("run_id", summary.RunID), zap.String("dir", rf.dir))
	return nil
}

// AbortRun flushes and closes the files of a run that ended early. The run
// directory keeps the days written so far and gets no summary.
func (e *RunExporter) AbortRun(_ context.Context, runID string, cause error) error {
	e.mu.Lock()
	rf, ok := e.runs[runID]
	delete(e.runs, runID)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	rf.writer.Flush()
	flushErr := rf.writer.Error()
	if err := rf.timeseries.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	e.logger.Warn("Run export aborted", zap.String("run_id", runID), zap.String("dir", rf.dir), zap.Error(cause))
	return flushErr
}

func writeDailyFile(dir string, date time.Time, lines []domain.PositionLine) error {
	name := filepath.Join(dir, DailyRecordsDir, "trading_day_"+date.Format("20060102")+".csv")
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create daily file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(dailyHeader); err != nil {
		return err
	}
	for _, l := range lines {
		liquidate := "No"
		if l.ShouldLiquidate {
			liquidate = "Yes"
		}
		if err := w.Write([]string{
			l.PositionID,
			fixed(l.SeedPrice, 4),
			money(l.PositionValueAtSeed),
			money(l.LoanAmount),
			fixed(l.ClosePrice, 4),
			money(l.PositionValueAtClose),
			money(l.HoldValue),
			fixed(l.ImpermanentLoss, 6),
			money(l.ImpermanentLossPct),
			ratio(l.HealthFactor),
			liquidate,
			money(l.RepayAmount),
			money(l.CollateralToTake),
			money(l.ProvisionalLoan),
			ratio(l.WorstProjectedHF),
			fixed(l.Threshold, 4),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// FormatSummary renders the human readable run summary.
func FormatSummary(s domain.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run ID: %s\n", s.RunID)
	fmt.Fprintf(&b, "Policy: %s\n", s.Policy)
	fmt.Fprintf(&b, "Projection mode: %s\n", s.Mode)
	fmt.Fprintf(&b, "Started: %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n", s.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total dates simulated: %d\n", s.TotalDates)
	fmt.Fprintf(&b, "Total positions: %d\n", s.TotalPositions)
	fmt.Fprintf(&b, "Total liquidations: %d\n", s.TotalLiquidationsAll)
	fmt.Fprintf(&b, "Unique positions ever liquidated: %d\n", s.UniquePositionsEverLiquidated)
	fmt.Fprintf(&b, "Days with liquidations: %d\n", s.DaysWithLiquidations)
	fmt.Fprintf(&b, "Average health factor: %s\n", ratio(s.AvgHealthFactorAll))
	fmt.Fprintf(&b, "Average effective LTV: %s\n", fixed(s.AvgEffectiveLTVAll, 4))
	fmt.Fprintf(&b, "Loan reductions applied: %d\n", s.TotalReductionsApplied)
	fmt.Fprintf(&b, "Degenerate shocks: %d\n", s.DegenerateShocks)
	return b.String()
}

func money(v float64) string { return fixed(v, 2) }

func ratio(v float64) string { return fixed(v, 6) }

// fixed formats v with a fixed number of decimals; infinities are written as
// "inf" and "-inf".
func fixed(v float64, places int32) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}
