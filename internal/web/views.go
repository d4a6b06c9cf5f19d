package web

import (
	"math"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

// JSON cannot carry +Inf, so views report non-finite ratios as null.
func num(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

type runView struct {
	RunID                         string     `json:"run_id"`
	Policy                        string     `json:"policy"`
	Mode                          string     `json:"mode"`
	StartedAt                     time.Time  `json:"started_at"`
	FinishedAt                    *time.Time `json:"finished_at"`
	TotalDates                    int        `json:"total_dates"`
	TotalPositions                int        `json:"total_positions"`
	TotalLiquidationsAll          int        `json:"total_liquidations_all"`
	UniquePositionsEverLiquidated int        `json:"unique_positions_ever_liquidated"`
	AvgHealthFactorAll            *float64   `json:"avg_health_factor_all"`
	AvgEffectiveLTVAll            float64    `json:"avg_effective_ltv_all"`
	TotalReductionsApplied        int        `json:"total_reductions_applied"`
	DaysWithLiquidations          int        `json:"days_with_liquidations"`
	DegenerateShocks              int        `json:"degenerate_shocks"`
}

func newRunView(s domain.RunSummary) runView {
	v := runView{
		RunID:                         s.RunID,
		Policy:                        string(s.Policy),
		Mode:                          string(s.Mode),
		StartedAt:                     s.StartedAt,
		TotalDates:                    s.TotalDates,
		TotalPositions:                s.TotalPositions,
		TotalLiquidationsAll:          s.TotalLiquidationsAll,
		UniquePositionsEverLiquidated: s.UniquePositionsEverLiquidated,
		AvgHealthFactorAll:            num(s.AvgHealthFactorAll),
		AvgEffectiveLTVAll:            s.AvgEffectiveLTVAll,
		TotalReductionsApplied:        s.TotalReductionsApplied,
		DaysWithLiquidations:          s.DaysWithLiquidations,
		DegenerateShocks:              s.DegenerateShocks,
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		v.FinishedAt = &t
	}
	return v
}

type dayView struct {
	Date                  string   `json:"date"`
	OpenPrice             float64  `json:"open_price"`
	ClosePrice            float64  `json:"close_price"`
	PriceChangePct        float64  `json:"price_change_pct"`
	LiquidationCount      int      `json:"liquidation_count"`
	UniqueLiquidatedToday int      `json:"unique_liquidated_today"`
	AvgHealthFactor       *float64 `json:"avg_health_factor"`
	AvgEffectiveLTV       float64  `json:"avg_effective_ltv"`
	ReductionsApplied     int      `json:"reductions_applied_today"`
	AvgWorstProjectedHF   *float64 `json:"avg_worst_projected_hf"`
	RepaidTotal           float64  `json:"repaid_total"`
	CollateralTakenTotal  float64  `json:"collateral_taken_total"`
}

func newDayView(d domain.DayRecord) dayView {
	return dayView{
		Date:                  d.Date.Format(time.DateOnly),
		OpenPrice:             d.OpenPrice,
		ClosePrice:            d.ClosePrice,
		PriceChangePct:        d.PriceChangePct,
		LiquidationCount:      d.LiquidationCount,
		UniqueLiquidatedToday: d.UniqueLiquidatedToday,
		AvgHealthFactor:       num(d.AvgHealthFactor),
		AvgEffectiveLTV:       d.AvgEffectiveLTV,
		ReductionsApplied:     d.ReductionsApplied,
		AvgWorstProjectedHF:   num(d.AvgWorstProjectedHF),
		RepaidTotal:           d.RepaidTotal,
		CollateralTakenTotal:  d.CollateralTakenTotal,
	}
}

type lineView struct {
	PositionID           string   `json:"position_id"`
	SeedPrice            float64  `json:"seed_price"`
	PositionValueAtSeed  float64  `json:"position_value_at_seed"`
	ProvisionalLoan      float64  `json:"provisional_loan"`
	LoanAmount           float64  `json:"loan_amount"`
	ClosePrice           float64  `json:"close_price"`
	PositionValueAtClose float64  `json:"position_value_at_close"`
	HoldValue            float64  `json:"hold_value"`
	ImpermanentLossPct   float64  `json:"impermanent_loss_pct"`
	WorstProjectedHF     *float64 `json:"worst_projected_hf"`
	Threshold            float64  `json:"threshold"`
	HealthFactor         *float64 `json:"health_factor"`
	ShouldLiquidate      bool     `json:"should_liquidate"`
	RepayAmount          float64  `json:"repay_amount"`
	CollateralToTake     float64  `json:"collateral_to_take"`
}

func newLineView(l domain.PositionLine) lineView {
	return lineView{
		PositionID:           l.PositionID,
		SeedPrice:            l.SeedPrice,
		PositionValueAtSeed:  l.PositionValueAtSeed,
		ProvisionalLoan:      l.ProvisionalLoan,
		LoanAmount:           l.LoanAmount,
		ClosePrice:           l.ClosePrice,
		PositionValueAtClose: l.PositionValueAtClose,
		HoldValue:            l.HoldValue,
		ImpermanentLossPct:   l.ImpermanentLossPct,
		WorstProjectedHF:     num(l.WorstProjectedHF),
		Threshold:            l.Threshold,
		HealthFactor:         num(l.HealthFactor),
		ShouldLiquidate:      l.ShouldLiquidate,
		RepayAmount:          l.RepayAmount,
		CollateralToTake:     l.CollateralToTake,
	}
}
