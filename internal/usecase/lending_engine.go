package usecase

import (
	"math"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

// LiquidationHF is the health factor below which a loan becomes liquidatable.
const LiquidationHF = 1.0

// LendingEngine evaluates loans against fixed protocol parameters. It holds no
// state besides the parameters and is safe for concurrent use.
type LendingEngine struct {
	params domain.ProtocolParams
}

func NewLendingEngine(params domain.ProtocolParams) *LendingEngine {
	return &LendingEngine{params: params}
}

func (e *LendingEngine) Params() domain.ProtocolParams {
	return e.params
}

// HealthFactor returns value*LT/loan, or +Inf when there is no debt.
func (e *LendingEngine) HealthFactor(positionValue, loanAmount float64) float64 {
	if loanAmount <= 0 {
		return math.Inf(1)
	}
	return positionValue * e.params.LiquidationThreshold / loanAmount
}

// Borrow returns the maximum loan at origination for the given collateral value.
func (e *LendingEngine) Borrow(collateralValue float64) float64 {
	return collateralValue * e.params.LTVMax
}

// DecideLiquidation applies the protocol rule: liquidatable when HF < 1.
func (e *LendingEngine) DecideLiquidation(positionValue, loanAmount float64) domain.LiquidationDecision {
	return e.DecideAgainstThreshold(positionValue, loanAmount, LiquidationHF)
}

// DecideAgainstThreshold is DecideLiquidation with a caller supplied trigger,
// used when a stress policy has shifted the liquidation point.
func (e *LendingEngine) DecideAgainstThreshold(positionValue, loanAmount, threshold float64) domain.LiquidationDecision {
	if loanAmount <= 0 {
		return domain.NoDebtDecision()
	}

	hf := e.HealthFactor(positionValue, loanAmount)
	if hf < threshold {
		repay := loanAmount * e.params.CloseFactor
		return domain.LiquidationDecision{
			ShouldLiquidate:  true,
			HealthFactor:     hf,
			RepayAmount:      repay,
			CollateralToTake: repay * (1 + e.params.LiquidationBonus),
		}
	}

	return domain.LiquidationDecision{HealthFactor: hf}
}
