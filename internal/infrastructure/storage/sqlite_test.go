package storage_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/infrastructure/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeRun(t *testing.T, store *storage.SQLiteStore, runID string, started time.Time, days []domain.DayRecord, lines []domain.PositionLine) {
	t.Helper()
	ctx := context.Background()
	summary := domain.RunSummary{RunID: runID, Policy: domain.PolicySlidingLTV, Mode: domain.ModeDirect, StartedAt: started, TotalPositions: 1}
	require.NoError(t, store.BeginRun(ctx, summary))
	for i, d := range days {
		var l []domain.PositionLine
		if i == 0 {
			l = lines
		}
		require.NoError(t, store.WriteDay(ctx, runID, d, l))
	}
	summary.FinishedAt = started.Add(time.Minute)
	summary.TotalDates = len(days)
	summary.TotalLiquidationsAll = 1
	summary.AvgHealthFactorAll = math.Inf(1)
	summary.DegenerateShocks = 3
	require.NoError(t, store.EndRun(ctx, summary))
}

func sampleDays() []domain.DayRecord {
	d0 := time.Date(2021, 5, 19, 0, 0, 0, 0, time.UTC)
	return []domain.DayRecord{
		{Date: d0, OpenPrice: 3380, ClosePrice: 2460, PriceChangePct: -27.2, LiquidationCount: 1, UniqueLiquidatedToday: 1,
			AvgHealthFactor: 0.81, AvgEffectiveLTV: 0.45, ReductionsApplied: 1, AvgWorstProjectedHF: 0.9, RepaidTotal: 10, CollateralTakenTotal: 11},
		{Date: d0.AddDate(0, 0, 1), OpenPrice: 2460, ClosePrice: 2700, PriceChangePct: 9.7,
			AvgHealthFactor: math.Inf(1), AvgWorstProjectedHF: math.Inf(1)},
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)

	lines := []domain.PositionLine{
		{PositionID: "id#1", SeedPrice: 3380, PositionValueAtSeed: 8000, LoanAmount: 3600, ImpermanentLoss: -0.02,
			WorstProjectedHF: 0.9, Threshold: 1, LiquidationDecision: domain.LiquidationDecision{ShouldLiquidate: true, HealthFactor: 0.81, RepayAmount: 10, CollateralToTake: 11}},
		{PositionID: "id#0", SeedPrice: 3380, WorstProjectedHF: math.Inf(1), Threshold: 1,
			LiquidationDecision: domain.NoDebtDecision()},
	}
	storeRun(t, store, "run_a", started, sampleDays(), lines)

	run, err := store.GetRun(ctx, "run_a")
	require.NoError(t, err)
	assert.Equal(t, domain.PolicySlidingLTV, run.Policy)
	assert.Equal(t, 2, run.TotalDates)
	assert.Equal(t, 3, run.DegenerateShocks)
	assert.True(t, run.StartedAt.Equal(started))
	assert.True(t, run.FinishedAt.Equal(started.Add(time.Minute)))
	assert.True(t, math.IsInf(run.AvgHealthFactorAll, 1))

	days, err := store.ListDays(ctx, "run_a")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, sampleDays()[0], days[0])
	assert.True(t, math.IsInf(days[1].AvgHealthFactor, 1))

	got, err := store.ListPositionLines(ctx, "run_a", "2021-05-19")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "id#1", got[0].PositionID, "insertion order is kept")
	assert.True(t, got[0].ShouldLiquidate)
	assert.InDelta(t, -2.0, got[0].ImpermanentLossPct, 1e-12)
	assert.True(t, math.IsInf(got[1].HealthFactor, 1))
	assert.True(t, math.IsInf(got[1].WorstProjectedHF, 1))

	none, err := store.ListPositionLines(ctx, "run_a", "2021-05-20")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_ListRunsNewestFirst(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	storeRun(t, store, "run_old", base, sampleDays(), nil)
	storeRun(t, store, "run_new", base.Add(time.Hour), sampleDays(), nil)

	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_new", runs[0].RunID)

	runs, err = store.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	err = store.EndRun(ctx, domain.RunSummary{RunID: "missing"})
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	_, err = store.History("").HealthHistory(ctx)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSQLiteStore_HealthHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	storeRun(t, store, "run_a", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), sampleDays(), nil)

	// Unfinished runs are not used as the latest history.
	require.NoError(t, store.BeginRun(ctx, domain.RunSummary{RunID: "run_b", StartedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}))

	obs, err := store.History("").HealthHistory(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 1, "infinite days are skipped")
	assert.Equal(t, domain.HealthObservation{PriceChangePct: -27.2, AvgHealthFactor: 0.81}, obs[0])

	obs, err = store.History("run_b").HealthHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, obs)
}
