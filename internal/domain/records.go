package domain

import "time"

// DayRecord is the per-day aggregate emitted by the simulator.
// AvgHealthFactor is +Inf when no position had debt that day.
type DayRecord struct {
	Date                  time.Time `json:"date"`
	OpenPrice             float64   `json:"open_price"`
	ClosePrice            float64   `json:"close_price"`
	PriceChangePct        float64   `json:"price_change_pct"`
	LiquidationCount      int       `json:"liquidation_count"`
	UniqueLiquidatedToday int       `json:"unique_liquidated_today"`
	AvgHealthFactor       float64   `json:"avg_health_factor"`
	AvgEffectiveLTV       float64   `json:"avg_effective_ltv"`
	ReductionsApplied     int       `json:"reductions_applied_today"`
	AvgWorstProjectedHF   float64   `json:"avg_worst_projected_hf"`
	RepaidTotal           float64   `json:"repaid_total"`
	CollateralTakenTotal  float64   `json:"collateral_taken_total"`
}

// PositionLine is the per-position audit item for one day.
type PositionLine struct {
	PositionID           string  `json:"position_id"`
	SeedPrice            float64 `json:"seed_price"`
	PositionValueAtSeed  float64 `json:"position_value_at_seed"`
	ProvisionalLoan      float64 `json:"provisional_loan"`
	LoanAmount           float64 `json:"loan_amount"`
	ClosePrice           float64 `json:"close_price"`
	PositionValueAtClose float64 `json:"position_value_at_close"`
	HoldValue            float64 `json:"hold_value"`
	ImpermanentLoss      float64 `json:"impermanent_loss"`
	ImpermanentLossPct   float64 `json:"impermanent_loss_pct"`
	WorstProjectedHF     float64 `json:"worst_projected_hf"`
	Threshold            float64 `json:"threshold"`

	LiquidationDecision
}

// RunSummary is the run-level result.
type RunSummary struct {
	RunID                         string         `json:"run_id"`
	Policy                        StressPolicy   `json:"policy"`
	Mode                          ProjectionMode `json:"mode"`
	StartedAt                     time.Time      `json:"started_at"`
	FinishedAt                    time.Time      `json:"finished_at"`
	TotalDates                    int            `json:"total_dates"`
	TotalPositions                int            `json:"total_positions"`
	TotalLiquidationsAll          int            `json:"total_liquidations_all"`
	UniquePositionsEverLiquidated int            `json:"unique_positions_ever_liquidated"`
	AvgHealthFactorAll            float64        `json:"avg_health_factor_all"`
	AvgEffectiveLTVAll            float64        `json:"avg_effective_ltv_all"`
	TotalReductionsApplied        int            `json:"total_reductions_applied"`
	DaysWithLiquidations          int            `json:"days_with_liquidations"`
	DegenerateShocks              int            `json:"degenerate_shocks"`
}

// RunResult is the complete output of one simulation run.
type RunResult struct {
	Summary RunSummary  `json:"summary"`
	Days    []DayRecord `json:"days"`
}

// WindowReport summarizes a run restricted to a named date window.
type WindowReport struct {
	Window  DateWindow `json:"window"`
	Summary RunSummary `json:"summary"`
}
