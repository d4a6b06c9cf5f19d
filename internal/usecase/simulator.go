package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SimulatorOptions struct {
	// Workers bounds the goroutines evaluating positions within a day. Values
	// below 2 evaluate sequentially. Output does not depend on this value.
	Workers int
	// DetailLines makes the simulator pass per-position lines to the sink.
	DetailLines bool
	// ProgressEvery logs a progress line every N days; 0 disables it.
	ProgressEvery int
	RunID         string
}

// Simulator runs the day-by-day lending simulation over a fixed position pool.
// Every day each position is re-originated against the day's opening value;
// no debt carries over between days.
type Simulator struct {
	positions []*domain.Position
	lender    *LendingEngine
	projector *StressProjector
	sink      domain.ResultSink
	logger    *zap.Logger
	opts      SimulatorOptions
	timeNow   func() time.Time
}

func NewSimulator(
	positions []*domain.Position,
	lender *LendingEngine,
	projector *StressProjector,
	sink domain.ResultSink,
	logger *zap.Logger,
	opts SimulatorOptions,
) *Simulator {
	if sink == nil {
		sink = DiscardSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		positions: positions,
		lender:    lender,
		projector: projector,
		sink:      sink,
		logger:    logger,
		opts:      opts,
		timeNow:   time.Now,
	}
}

type positionOutcome struct {
	skipped      bool
	line         domain.PositionLine
	plan         StressPlan
	effectiveLTV float64
}

// runState accumulates statistics across the whole run.
type runState struct {
	summary        domain.RunSummary
	everLiquidated map[string]struct{}
	hfSum          float64
	hfCount        int
	ltvSum         float64
	ltvDays        int
}

// Run simulates every day of series and reports to the configured sink.
func (s *Simulator) Run(ctx context.Context, series []domain.PricePoint) (*domain.RunResult, error) {
	runID := s.opts.RunID
	if runID == "" {
		runID = NewRunID(s.timeNow())
	}
	return s.run(ctx, series, runID, s.sink)
}

// RunWindows re-runs the simulation on each named date window independently.
// Window runs are not reported to the sink.
func (s *Simulator) RunWindows(ctx context.Context, series []domain.PricePoint, windows []domain.DateWindow) ([]domain.WindowReport, error) {
	reports := make([]domain.WindowReport, 0, len(windows))
	for _, w := range windows {
		sub := w.Slice(series)
		if len(sub) == 0 {
			s.logger.Warn("Date window has no price data", zap.String("window", w.Name))
		}
		res, err := s.run(ctx, sub, w.Name, DiscardSink{})
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.Name, err)
		}
		reports = append(reports, domain.WindowReport{Window: w, Summary: res.Summary})
	}
	return reports, nil
}

func (s *Simulator) run(ctx context.Context, series []domain.PricePoint, runID string, sink domain.ResultSink) (_ *domain.RunResult, err error) {
	if err := validateSeries(series); err != nil {
		return nil, err
	}

	st := &runState{
		summary: domain.RunSummary{
			RunID:          runID,
			Policy:         s.projector.Policy(),
			Mode:           s.projector.Mode(),
			StartedAt:      s.timeNow(),
			TotalDates:     len(series),
			TotalPositions: len(s.positions),
		},
		everLiquidated: make(map[string]struct{}),
	}

	if err := sink.BeginRun(ctx, st.summary); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	ended := false
	defer func() {
		if err != nil && !ended {
			s.abortRun(ctx, sink, runID, err)
		}
	}()

	s.logger.Info("Starting simulation",
		zap.String("run_id", runID),
		zap.Int("days", len(series)),
		zap.Int("positions", len(s.positions)),
		zap.String("policy", string(st.summary.Policy)),
		zap.String("mode", string(st.summary.Mode)),
	)

	days := make([]domain.DayRecord, 0, len(series))
	for i, point := range series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcomes, err := s.evaluateDay(ctx, point)
		if err != nil {
			return nil, err
		}

		record, lines := s.reduceDay(st, point, outcomes)
		days = append(days, record)

		if err := sink.WriteDay(ctx, runID, record, lines); err != nil {
			return nil, fmt.Errorf("write day %s: %w", point.Date.Format(time.DateOnly), err)
		}

		if s.opts.ProgressEvery > 0 && i%s.opts.ProgressEvery == 0 {
			s.logger.Info("Simulation progress",
				zap.String("date", point.Date.Format(time.DateOnly)),
				zap.Int("liquidations", record.LiquidationCount),
				zap.Float64("avg_hf", record.AvgHealthFactor),
				zap.Float64("avg_ltv", record.AvgEffectiveLTV),
				zap.Int("reductions", record.ReductionsApplied),
			)
		}
	}

	st.summary.UniquePositionsEverLiquidated = len(st.everLiquidated)
	st.summary.AvgHealthFactorAll = mean(st.hfSum, st.hfCount)
	if st.ltvDays > 0 {
		st.summary.AvgEffectiveLTVAll = st.ltvSum / float64(st.ltvDays)
	}
	st.summary.FinishedAt = s.timeNow()

	ended = true
	if err := sink.EndRun(ctx, st.summary); err != nil {
		return nil, fmt.Errorf("end run: %w", err)
	}

	s.logger.Info("Simulation finished",
		zap.String("run_id", runID),
		zap.Int("total_liquidations", st.summary.TotalLiquidationsAll),
		zap.Int("unique_liquidated", st.summary.UniquePositionsEverLiquidated),
		zap.Float64("avg_hf", st.summary.AvgHealthFactorAll),
	)

	return &domain.RunResult{Summary: st.summary, Days: days}, nil
}

// abortRun lets sinks release a run that stopped before EndRun. It runs on a
// context detached from cancellation, since cancellation is a common cause.
func (s *Simulator) abortRun(ctx context.Context, sink domain.ResultSink, runID string, cause error) {
	s.logger.Warn("Simulation aborted", zap.String("run_id", runID), zap.Error(cause))
	a, ok := sink.(domain.RunAborter)
	if !ok {
		return
	}
	if err := a.AbortRun(context.WithoutCancel(ctx), runID, cause); err != nil {
		s.logger.Error("Failed to abort run", zap.String("run_id", runID), zap.Error(err))
	}
}

// evaluateDay computes one outcome per pool slot. Outcomes are index addressed
// so the reduction that follows is independent of scheduling.
func (s *Simulator) evaluateDay(ctx context.Context, point domain.PricePoint) ([]positionOutcome, error) {
	outcomes := make([]positionOutcome, len(s.positions))

	if s.opts.Workers < 2 {
		for i, pos := range s.positions {
			outcomes[i] = s.evaluatePosition(pos, point)
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, pos := range s.positions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.evaluatePosition(pos, point)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *Simulator) evaluatePosition(pos *domain.Position, point domain.PricePoint) positionOutcome {
	openValue := pos.Value(point.OpenPrice)
	if openValue <= 0 {
		return positionOutcome{skipped: true}
	}

	provisional := s.lender.Borrow(openValue)
	plan := s.projector.Plan(pos, point.OpenPrice, openValue, provisional)

	closeValue := pos.Value(point.ClosePrice)
	decision := s.lender.DecideAgainstThreshold(closeValue, plan.Loan, plan.Threshold)

	il := pos.ImpermanentLoss(point.ClosePrice)
	return positionOutcome{
		plan:         plan,
		effectiveLTV: math.Min(math.Max(plan.Loan/openValue, 0), 1),
		line: domain.PositionLine{
			PositionID:           pos.ID,
			SeedPrice:            point.OpenPrice,
			PositionValueAtSeed:  openValue,
			ProvisionalLoan:      provisional,
			LoanAmount:           plan.Loan,
			ClosePrice:           point.ClosePrice,
			PositionValueAtClose: closeValue,
			HoldValue:            pos.HoldValue(point.ClosePrice),
			ImpermanentLoss:      il,
			ImpermanentLossPct:   il * 100,
			WorstProjectedHF:     plan.WorstHF,
			Threshold:            plan.Threshold,
			LiquidationDecision:  decision,
		},
	}
}

func (s *Simulator) reduceDay(st *runState, point domain.PricePoint, outcomes []positionOutcome) (domain.DayRecord, []domain.PositionLine) {
	record := domain.DayRecord{
		Date:           point.Date,
		OpenPrice:      point.OpenPrice,
		ClosePrice:     point.ClosePrice,
		PriceChangePct: point.ChangePct(),
	}

	var lines []domain.PositionLine
	if s.opts.DetailLines {
		lines = make([]domain.PositionLine, 0, len(outcomes))
	}

	liquidatedToday := make(map[string]struct{})
	var hfSum, ltvSum, worstSum float64
	var hfCount, ltvCount, worstCount int

	for _, o := range outcomes {
		if o.skipped {
			continue
		}

		ltvSum += o.effectiveLTV
		ltvCount++
		if o.plan.Reduced {
			record.ReductionsApplied++
		}
		if o.plan.Projected && finite(o.plan.WorstHF) {
			worstSum += o.plan.WorstHF
			worstCount++
		}
		st.summary.DegenerateShocks += o.plan.Degenerate

		hf := o.line.HealthFactor
		if finite(hf) {
			hfSum += hf
			hfCount++
		}

		if o.line.ShouldLiquidate {
			record.LiquidationCount++
			record.RepaidTotal += o.line.RepayAmount
			record.CollateralTakenTotal += o.line.CollateralToTake
			liquidatedToday[o.line.PositionID] = struct{}{}
			st.everLiquidated[o.line.PositionID] = struct{}{}
		}

		if lines != nil {
			lines = append(lines, o.line)
		}
	}

	record.UniqueLiquidatedToday = len(liquidatedToday)
	record.AvgHealthFactor = mean(hfSum, hfCount)
	record.AvgWorstProjectedHF = mean(worstSum, worstCount)
	if ltvCount > 0 {
		record.AvgEffectiveLTV = ltvSum / float64(ltvCount)
	}

	st.hfSum += hfSum
	st.hfCount += hfCount
	st.ltvSum += record.AvgEffectiveLTV
	st.ltvDays++
	st.summary.TotalLiquidationsAll += record.LiquidationCount
	st.summary.TotalReductionsApplied += record.ReductionsApplied
	if record.LiquidationCount > 0 {
		st.summary.DaysWithLiquidations++
	}

	return record, lines
}

func validateSeries(series []domain.PricePoint) error {
	for i, p := range series {
		if !(p.OpenPrice > 0) || !(p.ClosePrice > 0) || !finite(p.OpenPrice) || !finite(p.ClosePrice) {
			return fmt.Errorf("%w: row %d (%s) has non-positive prices open=%v close=%v",
				domain.ErrDataUnavailable, i, p.Date.Format(time.DateOnly), p.OpenPrice, p.ClosePrice)
		}
	}
	return nil
}

// mean returns sum/count, or +Inf when there were no observations.
func mean(sum float64, count int) float64 {
	if count == 0 {
		return math.Inf(1)
	}
	return sum / float64(count)
}
