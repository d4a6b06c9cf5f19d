package domain

import (
	"fmt"
	"math"
)

// ProtocolParams are the fixed lending protocol constants for a run.
type ProtocolParams struct {
	LTVMax               float64 `yaml:"ltv_max" json:"ltv_max"`
	LiquidationThreshold float64 `yaml:"liquidation_threshold" json:"liquidation_threshold"`
	CloseFactor          float64 `yaml:"close_factor" json:"close_factor"`
	LiquidationBonus     float64 `yaml:"liquidation_bonus" json:"liquidation_bonus"`
}

func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		LTVMax:               0.65,
		LiquidationThreshold: 0.70,
		CloseFactor:          0.5,
		LiquidationBonus:     0.10,
	}
}

func (p ProtocolParams) Validate() error {
	if !(p.LTVMax > 0 && p.LTVMax <= 1) {
		return fmt.Errorf("ltv_max must be in (0, 1], got %v", p.LTVMax)
	}
	if !(p.LiquidationThreshold > 0 && p.LiquidationThreshold <= 1) {
		return fmt.Errorf("liquidation_threshold must be in (0, 1], got %v", p.LiquidationThreshold)
	}
	if p.LiquidationThreshold < p.LTVMax {
		return fmt.Errorf("liquidation_threshold (%v) must not be below ltv_max (%v)", p.LiquidationThreshold, p.LTVMax)
	}
	if !(p.CloseFactor > 0 && p.CloseFactor <= 1) {
		return fmt.Errorf("close_factor must be in (0, 1], got %v", p.CloseFactor)
	}
	if p.LiquidationBonus < 0 {
		return fmt.Errorf("liquidation_bonus must not be negative, got %v", p.LiquidationBonus)
	}
	return nil
}

// LiquidationDecision is the lender's verdict for one position.
// HealthFactor is +Inf when there is no debt.
type LiquidationDecision struct {
	ShouldLiquidate  bool    `json:"should_liquidate"`
	HealthFactor     float64 `json:"health_factor"`
	RepayAmount      float64 `json:"repay_amount"`
	CollateralToTake float64 `json:"collateral_to_take"`
}

// NoDebtDecision is returned whenever the loan amount is zero or negative.
func NoDebtDecision() LiquidationDecision {
	return LiquidationDecision{HealthFactor: math.Inf(1)}
}
