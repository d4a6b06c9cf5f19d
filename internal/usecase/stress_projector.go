package usecase

import (
	"math"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

// Projection is the reduction of one position's shock grid.
type Projection struct {
	WorstHF       float64
	WorstShockPct float64
	// Degenerate counts shocks whose price was not positive; they project HF 0.
	Degenerate int
}

// StressPlan is the same-day capital decision for one position.
type StressPlan struct {
	Loan          float64
	Threshold     float64
	Reduced       bool
	Projected     bool
	WorstHF       float64
	WorstShockPct float64
	Degenerate    int
}

// StressProjector evaluates a fixed grid of hypothetical price shocks against a
// position and converts the worst outcome into a loan or threshold adjustment.
type StressProjector struct {
	cfg    domain.StressConfig
	lender *LendingEngine
	model  domain.HealthRegression
	bands  []domain.LTVBand
}

// NewStressProjector builds a projector. model may be nil, in which case
// regression mode projects directly.
func NewStressProjector(cfg domain.StressConfig, lender *LendingEngine, model domain.HealthRegression) *StressProjector {
	return &StressProjector{
		cfg:    cfg,
		lender: lender,
		model:  model,
		bands:  cfg.SortedBands(),
	}
}

func (p *StressProjector) Policy() domain.StressPolicy { return p.cfg.Policy }

// Mode is the projection mode actually in effect.
func (p *StressProjector) Mode() domain.ProjectionMode {
	if p.cfg.Mode == domain.ModeRegression && p.model != nil {
		return domain.ModeRegression
	}
	return domain.ModeDirect
}

// ProjectHealth projects the health factor of pos for a single shock applied to
// anchorPrice. The second result reports a non-positive shocked price.
func (p *StressProjector) ProjectHealth(pos *domain.Position, anchorPrice, shockPct, loanAmount float64) (float64, bool) {
	shocked := anchorPrice * (1 + shockPct/100)
	if shocked <= 0 {
		return 0, true
	}

	if p.Mode() == domain.ModeRegression {
		il := pos.ImpermanentLoss(shocked)
		return math.Max(p.model.Predict(shockPct)+il*p.cfg.ILAdjustFactor, 0), false
	}

	return p.lender.HealthFactor(pos.Value(shocked), loanAmount), false
}

// WorstProjectedHF returns the minimum projected health factor over the shock
// grid, or +Inf when there is no debt.
func (p *StressProjector) WorstProjectedHF(pos *domain.Position, anchorPrice, loanAmount float64) Projection {
	res := Projection{WorstHF: math.Inf(1)}
	if loanAmount <= 0 {
		return res
	}

	for _, shock := range p.cfg.ShocksPct {
		hf, degenerate := p.ProjectHealth(pos, anchorPrice, shock, loanAmount)
		if degenerate {
			res.Degenerate++
		}
		if hf < res.WorstHF {
			res.WorstHF = hf
			res.WorstShockPct = shock
		}
	}
	return res
}

// Plan runs the configured policy for one position. collateralValue is the
// opening valuation and provisionalLoan the loan Borrow would grant for it.
func (p *StressProjector) Plan(pos *domain.Position, anchorPrice, collateralValue, provisionalLoan float64) StressPlan {
	plan := StressPlan{
		Loan:      provisionalLoan,
		Threshold: LiquidationHF,
		WorstHF:   math.Inf(1),
	}
	if p.cfg.Policy == domain.PolicyNone {
		return plan
	}

	proj := p.WorstProjectedHF(pos, anchorPrice, provisionalLoan)
	plan.Projected = true
	plan.WorstHF = proj.WorstHF
	plan.WorstShockPct = proj.WorstShockPct
	plan.Degenerate = proj.Degenerate

	switch p.cfg.Policy {
	case domain.PolicyThresholdShift:
		plan.Threshold = math.Max(proj.WorstHF+p.cfg.SafetyBuffer, LiquidationHF)
	case domain.PolicyLoanShrink:
		if stressable(proj.WorstHF) {
			plan.Loan = math.Min(provisionalLoan, p.flatSafeLoan(collateralValue, proj.WorstHF))
		}
	case domain.PolicySlidingLTV:
		if stressable(proj.WorstHF) {
			sliding := collateralValue * p.bandLTV(proj.WorstHF)
			safe := math.Min(sliding, p.flatSafeLoan(collateralValue, proj.WorstHF))
			plan.Loan = math.Min(provisionalLoan, safe)
		}
	}

	plan.Reduced = plan.Loan < provisionalLoan
	return plan
}

// flatSafeLoan is collateral*LTVMax/stressFactor with stressFactor = 1/(worst+buffer).
func (p *StressProjector) flatSafeLoan(collateralValue, worstHF float64) float64 {
	stressFactor := 1 / (worstHF + p.cfg.SafetyBuffer)
	return collateralValue * p.lender.Params().LTVMax / stressFactor
}

func (p *StressProjector) bandLTV(worstHF float64) float64 {
	for _, b := range p.bands {
		if worstHF < b.Below {
			return b.MaxLTV
		}
	}
	return p.lender.Params().LTVMax
}

func stressable(worstHF float64) bool {
	return worstHF > 0 && !math.IsInf(worstHF, 1)
}
