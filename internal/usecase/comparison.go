package usecase

import "github.com/vitos/lp_lending_risk/internal/domain"

// PolicyComparison contrasts a stress policy run with the fixed-LTV baseline
// over the same pool and price series.
type PolicyComparison struct {
	Baseline                   domain.RunSummary `json:"baseline"`
	Stressed                   domain.RunSummary `json:"stressed"`
	LiquidationReductionPct    float64           `json:"liquidation_reduction_pct"`
	LiquidationDayReductionPct float64           `json:"liquidation_day_reduction_pct"`
}

func ComparePolicies(baseline, stressed domain.RunSummary) PolicyComparison {
	return PolicyComparison{
		Baseline:                   baseline,
		Stressed:                   stressed,
		LiquidationReductionPct:    reductionPct(baseline.TotalLiquidationsAll, stressed.TotalLiquidationsAll),
		LiquidationDayReductionPct: reductionPct(baseline.DaysWithLiquidations, stressed.DaysWithLiquidations),
	}
}

func reductionPct(before, after int) float64 {
	if before <= 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
