package domain

import (
	"fmt"
	"math"
)

// Position represents a concentrated-liquidity LP position in a base/quote pool.
// Prices are quoted as quote per base (e.g. USDC per ETH).
type Position struct {
	ID                string
	InitialPrice      float64
	LowerPrice        float64
	UpperPrice        float64
	Liquidity         float64
	ActualBaseAmount  float64
	ActualQuoteAmount float64

	baseMax    float64
	quoteMax   float64
	rangeWidth float64
	sqrtLower  float64
	sqrtUpper  float64
}

// NewPosition opens a position from the maximum base and quote amounts the owner
// is willing to deposit. The range is symmetric: initial*(1±rangeWidth).
// Liquidity is sized by the binding side, so one of the two deposits is usually
// only partially used.
func NewPosition(id string, baseMax, quoteMax, rangeWidth float64) (*Position, error) {
	if !(rangeWidth > 0 && rangeWidth < 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRange, rangeWidth)
	}
	if !(baseMax > 0) {
		return nil, fmt.Errorf("%w: base max must be positive, got %v", ErrInvalidDeposit, baseMax)
	}
	if !(quoteMax > 0) {
		return nil, fmt.Errorf("%w: quote max must be positive, got %v", ErrInvalidDeposit, quoteMax)
	}

	p := &Position{
		ID:           id,
		InitialPrice: quoteMax / baseMax,
		baseMax:      baseMax,
		quoteMax:     quoteMax,
		rangeWidth:   rangeWidth,
	}
	p.LowerPrice = p.InitialPrice * (1 - rangeWidth)
	p.UpperPrice = p.InitialPrice * (1 + rangeWidth)

	sqrtInitial := math.Sqrt(p.InitialPrice)
	p.sqrtLower = math.Sqrt(p.LowerPrice)
	p.sqrtUpper = math.Sqrt(p.UpperPrice)

	deltaBase := 1/sqrtInitial - 1/p.sqrtUpper
	deltaQuote := sqrtInitial - p.sqrtLower

	liqBase := math.Inf(1)
	if deltaBase > 0 {
		liqBase = baseMax / deltaBase
	}
	liqQuote := math.Inf(1)
	if deltaQuote > 0 {
		liqQuote = quoteMax / deltaQuote
	}
	p.Liquidity = math.Min(liqBase, liqQuote)
	if !(p.Liquidity > 0) || math.IsInf(p.Liquidity, 1) {
		return nil, fmt.Errorf("%w: degenerate liquidity %v", ErrInvalidRange, p.Liquidity)
	}

	p.ActualBaseAmount, p.ActualQuoteAmount = p.Reserves(p.InitialPrice)
	return p, nil
}

// Reserves returns the base and quote amounts held by the position at price.
func (p *Position) Reserves(price float64) (base, quote float64) {
	switch {
	case price <= p.LowerPrice:
		return p.Liquidity * (1/p.sqrtLower - 1/p.sqrtUpper), 0
	case price >= p.UpperPrice:
		return 0, p.Liquidity * (p.sqrtUpper - p.sqrtLower)
	default:
		sqrtPrice := math.Sqrt(price)
		return p.Liquidity * (1/sqrtPrice - 1/p.sqrtUpper), p.Liquidity * (sqrtPrice - p.sqrtLower)
	}
}

// Value is the position value in quote units at price.
func (p *Position) Value(price float64) float64 {
	base, quote := p.Reserves(price)
	return base*price + quote
}

// HoldValue is what the actually deposited tokens would be worth at price if
// they had been held outside the pool.
func (p *Position) HoldValue(price float64) float64 {
	return p.ActualBaseAmount*price + p.ActualQuoteAmount
}

// ImpermanentLoss returns value/hold - 1 (negative = loss), or 0 when the hold
// value is zero.
func (p *Position) ImpermanentLoss(price float64) float64 {
	hold := p.HoldValue(price)
	if hold == 0 {
		return 0
	}
	return p.Value(price)/hold - 1
}

// InRange reports whether price lies strictly inside the range, where the
// position holds both assets.
func (p *Position) InRange(price float64) bool {
	return price > p.LowerPrice && price < p.UpperPrice
}

// RangeWidth is the fractional half-width the range was built with.
func (p *Position) RangeWidth() float64 { return p.rangeWidth }

// ExcessBase is the part of the requested base deposit that did not fit the range.
func (p *Position) ExcessBase() float64 { return p.baseMax - p.ActualBaseAmount }

// ExcessQuote is the part of the requested quote deposit that did not fit the range.
func (p *Position) ExcessQuote() float64 { return p.quoteMax - p.ActualQuoteAmount }
