package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/lp_lending_risk/internal/domain"
)

func TestNewPosition_InvalidInputs(t *testing.T) {
	tests := []struct {
		name       string
		baseMax    float64
		quoteMax   float64
		rangeWidth float64
		wantErr    error
	}{
		{"Zero width", 1, 100, 0, domain.ErrInvalidRange},
		{"Full width", 1, 100, 1, domain.ErrInvalidRange},
		{"Negative width", 1, 100, -0.1, domain.ErrInvalidRange},
		{"Width above one", 1, 100, 1.5, domain.ErrInvalidRange},
		{"NaN width", 1, 100, math.NaN(), domain.ErrInvalidRange},
		{"Zero base", 0, 100, 0.1, domain.ErrInvalidDeposit},
		{"Negative base", -1, 100, 0.1, domain.ErrInvalidDeposit},
		{"Zero quote", 1, 0, 0.1, domain.ErrInvalidDeposit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := domain.NewPosition("p", tt.baseMax, tt.quoteMax, tt.rangeWidth)
			assert.Nil(t, pos)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewPosition_Construction(t *testing.T) {
	pos, err := domain.NewPosition("p1", 3000, 2000, 0.1)
	require.NoError(t, err)

	assert.Equal(t, "p1", pos.ID)
	assert.InDelta(t, 0.6667, pos.InitialPrice, 1e-4)
	assert.InDelta(t, pos.InitialPrice*0.9, pos.LowerPrice, 1e-12)
	assert.InDelta(t, pos.InitialPrice*1.1, pos.UpperPrice, 1e-12)
	assert.Greater(t, pos.Liquidity, 0.0)
	assert.Less(t, pos.LowerPrice, pos.InitialPrice)
	assert.Less(t, pos.InitialPrice, pos.UpperPrice)

	// The binding side is fully used, the other side returns an excess.
	assert.GreaterOrEqual(t, pos.ExcessBase(), -1e-9)
	assert.GreaterOrEqual(t, pos.ExcessQuote(), -1e-9)
	baseBinding := math.Abs(pos.ExcessBase()) < 1e-6
	quoteBinding := math.Abs(pos.ExcessQuote()) < 1e-6
	assert.True(t, baseBinding || quoteBinding, "one side must bind")
}

func TestPosition_ValueConsistentAtInitialPrice(t *testing.T) {
	pos, err := domain.NewPosition("p1", 3000, 2000, 0.1)
	require.NoError(t, err)

	base, quote := pos.Reserves(pos.InitialPrice)
	assert.InDelta(t, pos.ActualBaseAmount, base, 1e-9)
	assert.InDelta(t, pos.ActualQuoteAmount, quote, 1e-9)

	want := pos.ActualBaseAmount*pos.InitialPrice + pos.ActualQuoteAmount
	assert.InDelta(t, want, pos.Value(pos.InitialPrice), 1e-9)
	assert.InDelta(t, want, pos.HoldValue(pos.InitialPrice), 1e-9)
	assert.InDelta(t, 0.0, pos.ImpermanentLoss(pos.InitialPrice), 1e-12)
}

func TestPosition_Regions(t *testing.T) {
	pos, err := domain.NewPosition("p", 10, 1000, 0.1)
	require.NoError(t, err)
	require.InDelta(t, 100.0, pos.InitialPrice, 1e-12)

	t.Run("Below range holds only base", func(t *testing.T) {
		base, quote := pos.Reserves(50)
		assert.Equal(t, 0.0, quote)
		assert.Greater(t, base, 0.0)

		// Linear in price with slope equal to the base reserve.
		assert.InDelta(t, base*50, pos.Value(50), 1e-9)
		assert.InDelta(t, base*80, pos.Value(80), 1e-9)
		assert.InDelta(t, pos.Value(40)/40, pos.Value(70)/70, 1e-12)
	})

	t.Run("Above range holds only quote", func(t *testing.T) {
		base, quote := pos.Reserves(200)
		assert.Equal(t, 0.0, base)
		assert.Greater(t, quote, 0.0)
		assert.InDelta(t, pos.Value(120), pos.Value(500), 1e-9)
		assert.InDelta(t, quote, pos.Value(1e6), 1e-9)
	})

	t.Run("Continuous at range bounds", func(t *testing.T) {
		assert.InDelta(t, pos.Value(pos.LowerPrice), pos.Value(pos.LowerPrice*(1+1e-12)), 1e-6)
		assert.InDelta(t, pos.Value(pos.UpperPrice), pos.Value(pos.UpperPrice*(1-1e-12)), 1e-6)
	})

	t.Run("In range flag", func(t *testing.T) {
		assert.True(t, pos.InRange(100))
		assert.False(t, pos.InRange(pos.LowerPrice))
		assert.False(t, pos.InRange(pos.UpperPrice))
		assert.Equal(t, 0.1, pos.RangeWidth())
	})
}

func TestPosition_ValueNonNegativeAndImpermanentLoss(t *testing.T) {
	pos, err := domain.NewPosition("p", 2, 5000, 0.3)
	require.NoError(t, err)

	prev := -1.0
	for price := 1.0; price <= 10000; price *= 1.25 {
		v := pos.Value(price)
		assert.GreaterOrEqual(t, v, 0.0, "value at %v", price)
		assert.GreaterOrEqual(t, v, prev, "value must not decrease with price")
		prev = v

		assert.LessOrEqual(t, pos.ImpermanentLoss(price), 1e-12, "IL at %v", price)
	}
}

func TestPosition_ImpermanentLossAfterDrop(t *testing.T) {
	pos, err := domain.NewPosition("1234", 3000, 2000, 0.1)
	require.NoError(t, err)

	price := pos.InitialPrice * 0.9
	il := pos.ImpermanentLoss(price)
	assert.Less(t, il, 0.0)
	assert.InDelta(t, pos.Value(price)/pos.HoldValue(price)-1, il, 1e-12)
}
