package domain

import (
	"fmt"
	"sort"
)

// StressPolicy selects how the worst projected health factor is turned into a
// same-day capital decision.
type StressPolicy string

const (
	// PolicyNone is the fixed-LTV baseline: no projection, built-in HF < 1 rule.
	PolicyNone StressPolicy = "none"
	// PolicyThresholdShift keeps the loan and raises the liquidation trigger.
	PolicyThresholdShift StressPolicy = "threshold_shift"
	// PolicyLoanShrink caps the loan by the flat stress factor.
	PolicyLoanShrink StressPolicy = "loan_shrink"
	// PolicySlidingLTV caps the loan by an LTV band chosen from the worst HF and
	// by the flat stress factor, whichever is lower.
	PolicySlidingLTV StressPolicy = "sliding_ltv"
)

func (p StressPolicy) Valid() bool {
	switch p {
	case PolicyNone, PolicyThresholdShift, PolicyLoanShrink, PolicySlidingLTV:
		return true
	}
	return false
}

// ProjectionMode selects how a health factor is projected for a shock.
type ProjectionMode string

const (
	ModeDirect     ProjectionMode = "direct"
	ModeRegression ProjectionMode = "regression"
)

func (m ProjectionMode) Valid() bool {
	return m == ModeDirect || m == ModeRegression
}

// LTVBand caps the loan-to-value when the worst projected HF is below Below.
type LTVBand struct {
	Below  float64 `yaml:"below" json:"below"`
	MaxLTV float64 `yaml:"max_ltv" json:"max_ltv"`
}

// StressConfig configures the stress projector.
type StressConfig struct {
	Policy         StressPolicy   `yaml:"policy" json:"policy"`
	Mode           ProjectionMode `yaml:"mode" json:"mode"`
	ShocksPct      []float64      `yaml:"shocks_pct" json:"shocks_pct"`
	SafetyBuffer   float64        `yaml:"safety_buffer" json:"safety_buffer"`
	ILAdjustFactor float64        `yaml:"il_adjust_factor" json:"il_adjust_factor"`
	Bands          []LTVBand      `yaml:"bands" json:"bands"`
}

func DefaultShocks() []float64 {
	return []float64{-15, -12, -9, -6, -3, 0, 3, 6, 9, 12, 15}
}

func DefaultLTVBands() []LTVBand {
	return []LTVBand{
		{Below: 0.8, MaxLTV: 0.35},
		{Below: 1.0, MaxLTV: 0.45},
		{Below: 1.2, MaxLTV: 0.55},
	}
}

func DefaultStressConfig() StressConfig {
	return StressConfig{
		Policy:         PolicyNone,
		Mode:           ModeDirect,
		ShocksPct:      DefaultShocks(),
		SafetyBuffer:   0.10,
		ILAdjustFactor: 0.5,
		Bands:          DefaultLTVBands(),
	}
}

func (c StressConfig) Validate() error {
	if !c.Policy.Valid() {
		return fmt.Errorf("unknown stress policy %q", c.Policy)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown projection mode %q", c.Mode)
	}
	if c.Policy != PolicyNone && len(c.ShocksPct) == 0 {
		return fmt.Errorf("stress policy %q needs at least one shock", c.Policy)
	}
	if c.SafetyBuffer < 0 {
		return fmt.Errorf("safety_buffer must not be negative, got %v", c.SafetyBuffer)
	}
	for _, b := range c.Bands {
		if !(b.MaxLTV > 0 && b.MaxLTV <= 1) {
			return fmt.Errorf("band below %v: max_ltv must be in (0, 1], got %v", b.Below, b.MaxLTV)
		}
	}
	return nil
}

// SortedBands returns the bands ordered by ascending threshold so the tightest
// applicable band wins.
func (c StressConfig) SortedBands() []LTVBand {
	bands := make([]LTVBand, len(c.Bands))
	copy(bands, c.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Below < bands[j].Below })
	return bands
}
