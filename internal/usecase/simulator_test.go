package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/lp_lending_risk/internal/domain"
)

type recordingSink struct {
	begun   []domain.RunSummary
	days    []domain.DayRecord
	lines   [][]domain.PositionLine
	ended   []domain.RunSummary
	aborted []string
	failDay bool
	onDay   func()
}

func (r *recordingSink) BeginRun(_ context.Context, s domain.RunSummary) error {
	r.begun = append(r.begun, s)
	return nil
}

func (r *recordingSink) WriteDay(_ context.Context, _ string, d domain.DayRecord, lines []domain.PositionLine) error {
	if r.failDay {
		return errors.New("disk full")
	}
	r.days = append(r.days, d)
	r.lines = append(r.lines, lines)
	if r.onDay != nil {
		r.onDay()
	}
	return nil
}

func (r *recordingSink) EndRun(_ context.Context, s domain.RunSummary) error {
	r.ended = append(r.ended, s)
	return nil
}

func (r *recordingSink) AbortRun(ctx context.Context, runID string, _ error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.aborted = append(r.aborted, runID)
	return nil
}

func testPool(t *testing.T, n int) []*domain.Position {
	t.Helper()
	pool := make([]*domain.Position, 0, n)
	for i := 0; i < n; i++ {
		// All positions price at 100 with widths 10%..(10+n)%.
		pos, err := domain.NewPosition(fmt.Sprintf("id#%d", i), 10, 1000, 0.10+0.01*float64(i))
		require.NoError(t, err)
		pool = append(pool, pos)
	}
	return pool
}

func day(s string, open, close float64) domain.PricePoint {
	d, _ := time.Parse(time.DateOnly, s)
	return domain.PricePoint{Date: d, OpenPrice: open, ClosePrice: close}
}

func newTestSimulator(t *testing.T, pool []*domain.Position, cfg domain.StressConfig, sink domain.ResultSink, opts SimulatorOptions) *Simulator {
	t.Helper()
	lender := NewLendingEngine(domain.DefaultProtocolParams())
	sim := NewSimulator(pool, lender, NewStressProjector(cfg, lender, nil), sink, nil, opts)
	fixed := time.Date(2026, 1, 11, 12, 28, 29, 0, time.UTC)
	sim.timeNow = func() time.Time { return fixed }
	return sim
}

func TestSimulator_BaselineFlatAndCrash(t *testing.T) {
	pool := testPool(t, 5)
	sink := &recordingSink{}
	sim := newTestSimulator(t, pool, domain.DefaultStressConfig(), sink, SimulatorOptions{RunID: "run_test", DetailLines: true})

	series := []domain.PricePoint{
		day("2022-11-01", 100, 100),
		day("2022-11-02", 100, 80),
		day("2022-11-03", 100, 80),
	}

	res, err := sim.Run(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, res.Days, 3)

	flat := res.Days[0]
	assert.Equal(t, 0, flat.LiquidationCount)
	assert.InDelta(t, 0.70/0.65, flat.AvgHealthFactor, 1e-12)
	assert.InDelta(t, 0.65, flat.AvgEffectiveLTV, 1e-12)
	assert.Equal(t, 0, flat.ReductionsApplied)

	crash := res.Days[1]
	assert.Equal(t, 5, crash.LiquidationCount)
	assert.Equal(t, 5, crash.UniqueLiquidatedToday)
	assert.InDelta(t, -20.0, crash.PriceChangePct, 1e-12)
	assert.Less(t, crash.AvgHealthFactor, 1.0)
	assert.Greater(t, crash.RepaidTotal, 0.0)
	assert.InDelta(t, crash.RepaidTotal*1.1, crash.CollateralTakenTotal, 1e-6)

	s := res.Summary
	assert.Equal(t, "run_test", s.RunID)
	assert.Equal(t, domain.PolicyNone, s.Policy)
	assert.Equal(t, 3, s.TotalDates)
	assert.Equal(t, 5, s.TotalPositions)
	assert.Equal(t, 10, s.TotalLiquidationsAll)
	assert.Equal(t, 5, s.UniquePositionsEverLiquidated)
	assert.Equal(t, 2, s.DaysWithLiquidations)
	wantAvg := (flat.AvgHealthFactor + crash.AvgHealthFactor + res.Days[2].AvgHealthFactor) / 3
	assert.InDelta(t, wantAvg, s.AvgHealthFactorAll, 1e-12)

	require.Len(t, sink.begun, 1)
	require.Len(t, sink.ended, 1)
	assert.Equal(t, res.Days, sink.days)
	require.Len(t, sink.lines[1], 5)
	line := sink.lines[1][0]
	assert.Equal(t, "id#0", line.PositionID)
	assert.True(t, line.ShouldLiquidate)
	assert.InDelta(t, line.PositionValueAtSeed*0.65, line.LoanAmount, 1e-9)
	assert.InDelta(t, line.LoanAmount*0.5, line.RepayAmount, 1e-9)
	assert.InDelta(t, line.ImpermanentLoss*100, line.ImpermanentLossPct, 1e-12)
}

func TestSimulator_ThresholdShiftLiquidatesEarlier(t *testing.T) {
	pool := testPool(t, 1)
	series := []domain.PricePoint{day("2022-11-01", 100, 99)}

	base, err := newTestSimulator(t, pool, domain.DefaultStressConfig(), nil, SimulatorOptions{}).Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, 0, base.Summary.TotalLiquidationsAll)

	cfg := domain.DefaultStressConfig()
	cfg.Policy = domain.PolicyThresholdShift
	cfg.SafetyBuffer = 0.2
	shifted, err := newTestSimulator(t, pool, cfg, nil, SimulatorOptions{}).Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, 1, shifted.Summary.TotalLiquidationsAll)
	assert.Less(t, shifted.Days[0].AvgWorstProjectedHF, 1.0)
}

func TestSimulator_SlidingLTVAvoidsCrashLiquidation(t *testing.T) {
	pool := testPool(t, 1)
	series := []domain.PricePoint{day("2022-11-01", 100, 80)}

	cfg := domain.DefaultStressConfig()
	cfg.Policy = domain.PolicySlidingLTV
	res, err := newTestSimulator(t, pool, cfg, nil, SimulatorOptions{}).Run(context.Background(), series)
	require.NoError(t, err)

	d := res.Days[0]
	assert.Equal(t, 0, d.LiquidationCount)
	assert.Equal(t, 1, d.ReductionsApplied)
	assert.InDelta(t, 0.45, d.AvgEffectiveLTV, 1e-12)
	assert.Equal(t, 1, res.Summary.TotalReductionsApplied)
	assert.InDelta(t, 0.45, res.Summary.AvgEffectiveLTVAll, 1e-12)
}

func TestSimulator_WorkersDoNotChangeOutput(t *testing.T) {
	pool := testPool(t, 40)
	var series []domain.PricePoint
	start := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 30; i++ {
		move := 1 + 0.07*math.Sin(float64(i))
		series = append(series, domain.PricePoint{Date: start.AddDate(0, 0, i), OpenPrice: price, ClosePrice: price * move})
		price *= move
	}

	cfg := domain.DefaultStressConfig()
	cfg.Policy = domain.PolicySlidingLTV

	seq, err := newTestSimulator(t, pool, cfg, nil, SimulatorOptions{RunID: "r"}).Run(context.Background(), series)
	require.NoError(t, err)
	par, err := newTestSimulator(t, pool, cfg, nil, SimulatorOptions{RunID: "r", Workers: 8}).Run(context.Background(), series)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
}

func TestSimulator_NoDebtDayHasInfiniteAverage(t *testing.T) {
	params := domain.DefaultProtocolParams()
	params.LTVMax = 0
	lender := NewLendingEngine(params)

	pool := testPool(t, 2)
	sim := NewSimulator(pool, lender, NewStressProjector(domain.DefaultStressConfig(), lender, nil), nil, nil, SimulatorOptions{})
	res, err := sim.Run(context.Background(), []domain.PricePoint{day("2022-11-01", 100, 50)})
	require.NoError(t, err)

	assert.True(t, math.IsInf(res.Days[0].AvgHealthFactor, 1))
	assert.True(t, math.IsInf(res.Summary.AvgHealthFactorAll, 1))
	assert.Equal(t, 0, res.Summary.TotalLiquidationsAll)
}

func TestSimulator_RejectsBadSeries(t *testing.T) {
	sim := newTestSimulator(t, testPool(t, 1), domain.DefaultStressConfig(), nil, SimulatorOptions{})

	_, err := sim.Run(context.Background(), []domain.PricePoint{day("2022-11-01", 100, 0)})
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	_, err = sim.Run(context.Background(), []domain.PricePoint{day("2022-11-01", math.NaN(), 10)})
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestSimulator_SinkAndContextErrors(t *testing.T) {
	series := []domain.PricePoint{day("2022-11-01", 100, 100)}

	failing := &recordingSink{failDay: true}
	sim := newTestSimulator(t, testPool(t, 1), domain.DefaultStressConfig(), failing, SimulatorOptions{RunID: "run_fail"})
	_, err := sim.Run(context.Background(), series)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, []string{"run_fail"}, failing.aborted)
	assert.Empty(t, failing.ended)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim = newTestSimulator(t, testPool(t, 1), domain.DefaultStressConfig(), nil, SimulatorOptions{})
	_, err = sim.Run(ctx, series)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_CancelledMidRunAbortsSink(t *testing.T) {
	series := []domain.PricePoint{
		day("2022-11-01", 100, 100),
		day("2022-11-02", 100, 95),
		day("2022-11-03", 95, 90),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{onDay: cancel}
	sim := newTestSimulator(t, testPool(t, 2), domain.DefaultStressConfig(), sink, SimulatorOptions{RunID: "run_cut"})
	_, err := sim.Run(ctx, series)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.days, 1)
	assert.Empty(t, sink.ended)
	assert.Equal(t, []string{"run_cut"}, sink.aborted, "abort runs on a detached context")

	abortedOnly := MultiSink{&recordingSink{}, DiscardSink{}}
	assert.NoError(t, abortedOnly.AbortRun(context.Background(), "run_x", nil))
	assert.Equal(t, []string{"run_x"}, abortedOnly[0].(*recordingSink).aborted)
}

func TestSimulator_RunWindows(t *testing.T) {
	sink := &recordingSink{}
	sim := newTestSimulator(t, testPool(t, 3), domain.DefaultStressConfig(), sink, SimulatorOptions{})
	series := []domain.PricePoint{
		day("2021-05-18", 100, 100),
		day("2021-05-19", 100, 80),
		day("2022-11-08", 100, 100),
		day("2022-11-09", 100, 100),
	}
	windows := []domain.DateWindow{
		{Name: "May 2021 Crash", Start: series[0].Date, End: time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)},
		{Name: "FTX Nov 2022", Start: series[2].Date, End: time.Date(2022, 11, 30, 0, 0, 0, 0, time.UTC)},
	}

	reports, err := sim.RunWindows(context.Background(), series, windows)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "May 2021 Crash", reports[0].Summary.RunID)
	assert.Equal(t, 2, reports[0].Summary.TotalDates)
	assert.Equal(t, 3, reports[0].Summary.TotalLiquidationsAll)
	assert.Equal(t, 2, reports[1].Summary.TotalDates)
	assert.Equal(t, 0, reports[1].Summary.TotalLiquidationsAll)
	assert.Empty(t, sink.days, "window runs are not reported")
}

func TestComparePolicies(t *testing.T) {
	c := ComparePolicies(
		domain.RunSummary{TotalLiquidationsAll: 200, DaysWithLiquidations: 10},
		domain.RunSummary{TotalLiquidationsAll: 50, DaysWithLiquidations: 4},
	)
	assert.InDelta(t, 75.0, c.LiquidationReductionPct, 1e-12)
	assert.InDelta(t, 60.0, c.LiquidationDayReductionPct, 1e-12)
	assert.Equal(t, 0.0, ComparePolicies(domain.RunSummary{}, domain.RunSummary{}).LiquidationReductionPct)
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 1, 11, 12, 28, 29, 0, time.UTC)
	a, b := NewRunID(now), NewRunID(now)
	assert.Regexp(t, `^run_20260111_122829_[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}
