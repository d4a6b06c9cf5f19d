package usecase

import (
	"context"
	"fmt"
	"math"

	"github.com/vitos/lp_lending_risk/internal/domain"
	"go.uber.org/zap"
)

// LinearModel is an ordinary least squares fit of average health factor on the
// daily price change in percent.
type LinearModel struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
	N         int     `json:"n"`
}

func (m *LinearModel) Predict(priceChangePct float64) float64 {
	return m.Intercept + m.Slope*priceChangePct
}

// FitHealthRegression fits a LinearModel, ignoring samples with a non-finite
// price change or health factor.
func FitHealthRegression(obs []domain.HealthObservation) (*LinearModel, error) {
	xs := make([]float64, 0, len(obs))
	ys := make([]float64, 0, len(obs))
	for _, o := range obs {
		if !finite(o.PriceChangePct) || !finite(o.AvgHealthFactor) {
			continue
		}
		xs = append(xs, o.PriceChangePct)
		ys = append(ys, o.AvgHealthFactor)
	}

	n := len(xs)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 finite samples, got %d", domain.ErrRegressionFit, n)
	}

	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		return nil, fmt.Errorf("%w: price change has zero variance", domain.ErrRegressionFit)
	}

	m := &LinearModel{Slope: sxy / sxx, N: n}
	m.Intercept = meanY - m.Slope*meanX

	var ssRes, ssTot float64
	for i := range xs {
		r := ys[i] - m.Predict(xs[i])
		ssRes += r * r
		d := ys[i] - meanY
		ssTot += d * d
	}
	switch {
	case ssTot > 0:
		m.R2 = 1 - ssRes/ssTot
	case ssRes == 0:
		m.R2 = 1
	}
	return m, nil
}

// ResolveRegression fits the regression model when cfg asks for regression mode.
// A fit failure is not fatal: it is logged and nil is returned, which makes the
// stress projector fall back to direct projection for the run.
func ResolveRegression(ctx context.Context, cfg domain.StressConfig, src domain.HealthHistorySource, logger *zap.Logger) domain.HealthRegression {
	if cfg.Mode != domain.ModeRegression || cfg.Policy == domain.PolicyNone {
		return nil
	}
	if src == nil {
		logger.Warn("Regression mode requested without a history source, falling back to direct mode")
		return nil
	}

	obs, err := src.HealthHistory(ctx)
	if err != nil {
		logger.Warn("Could not load health factor history, falling back to direct mode", zap.Error(err))
		return nil
	}

	model, err := FitHealthRegression(obs)
	if err != nil {
		logger.Warn("Could not fit health factor regression, falling back to direct mode", zap.Error(err))
		return nil
	}

	logger.Info("Regression model fitted",
		zap.Float64("slope", model.Slope),
		zap.Float64("intercept", model.Intercept),
		zap.Float64("r2", model.R2),
		zap.Int("rows", model.N),
	)
	return model
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
