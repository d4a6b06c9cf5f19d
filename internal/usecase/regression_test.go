package usecase_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/lp_lending_risk/internal/domain"
	"github.com/vitos/lp_lending_risk/internal/usecase"
	"go.uber.org/zap"
)

func TestFitHealthRegression_PerfectLine(t *testing.T) {
	var obs []domain.HealthObservation
	for x := -10.0; x <= 10; x += 2.5 {
		obs = append(obs, domain.HealthObservation{PriceChangePct: x, AvgHealthFactor: 1.05 + 0.01*x})
	}
	obs = append(obs,
		domain.HealthObservation{PriceChangePct: 3, AvgHealthFactor: math.Inf(1)},
		domain.HealthObservation{PriceChangePct: math.NaN(), AvgHealthFactor: 1},
	)

	m, err := usecase.FitHealthRegression(obs)
	require.NoError(t, err)
	assert.Equal(t, 9, m.N)
	assert.InDelta(t, 0.01, m.Slope, 1e-12)
	assert.InDelta(t, 1.05, m.Intercept, 1e-12)
	assert.InDelta(t, 1.0, m.R2, 1e-12)
	assert.InDelta(t, 0.9, m.Predict(-15), 1e-12)
}

func TestFitHealthRegression_NoisyFitHasPartialR2(t *testing.T) {
	obs := []domain.HealthObservation{
		{PriceChangePct: -2, AvgHealthFactor: 1.0},
		{PriceChangePct: -1, AvgHealthFactor: 1.1},
		{PriceChangePct: 0, AvgHealthFactor: 1.0},
		{PriceChangePct: 1, AvgHealthFactor: 1.2},
		{PriceChangePct: 2, AvgHealthFactor: 1.1},
	}
	m, err := usecase.FitHealthRegression(obs)
	require.NoError(t, err)
	assert.Greater(t, m.Slope, 0.0)
	assert.Greater(t, m.R2, 0.0)
	assert.Less(t, m.R2, 1.0)
}

func TestFitHealthRegression_Failures(t *testing.T) {
	_, err := usecase.FitHealthRegression(nil)
	assert.ErrorIs(t, err, domain.ErrRegressionFit)

	_, err = usecase.FitHealthRegression([]domain.HealthObservation{{PriceChangePct: 1, AvgHealthFactor: 1}})
	assert.ErrorIs(t, err, domain.ErrRegressionFit)

	_, err = usecase.FitHealthRegression([]domain.HealthObservation{
		{PriceChangePct: 1, AvgHealthFactor: 1},
		{PriceChangePct: 1, AvgHealthFactor: 2},
	})
	assert.ErrorIs(t, err, domain.ErrRegressionFit)
}

type historyStub struct {
	obs []domain.HealthObservation
	err error
}

func (h historyStub) HealthHistory(context.Context) ([]domain.HealthObservation, error) {
	return h.obs, h.err
}

func TestResolveRegression(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	good := historyStub{obs: []domain.HealthObservation{
		{PriceChangePct: -1, AvgHealthFactor: 1.0},
		{PriceChangePct: 1, AvgHealthFactor: 1.1},
	}}

	cfg := domain.DefaultStressConfig()
	cfg.Policy = domain.PolicySlidingLTV
	cfg.Mode = domain.ModeRegression

	model := usecase.ResolveRegression(ctx, cfg, good, logger)
	require.NotNil(t, model)
	assert.InDelta(t, 1.05, model.Predict(0), 1e-12)

	assert.Nil(t, usecase.ResolveRegression(ctx, cfg, historyStub{err: errors.New("boom")}, logger))
	assert.Nil(t, usecase.ResolveRegression(ctx, cfg, historyStub{}, logger))
	assert.Nil(t, usecase.ResolveRegression(ctx, cfg, nil, logger))

	cfg.Mode = domain.ModeDirect
	assert.Nil(t, usecase.ResolveRegression(ctx, cfg, good, logger))
}
