package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/lp_lending_risk/internal/domain"
)

// Sink exposes simulation progress as Prometheus metrics. Each Sink owns its
// registry so several can coexist in one process and in tests.
type Sink struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	policies map[string]string

	daysProcessed   *prometheus.CounterVec
	liquidations    *prometheus.CounterVec
	reductions      *prometheus.CounterVec
	repaid          *prometheus.CounterVec
	avgHealthFactor *prometheus.GaugeVec
	avgEffectiveLTV *prometheus.GaugeVec
	closePrice      prometheus.Gauge
	runsStarted     prometheus.Counter
	runsFinished    prometheus.Counter
	runActive       prometheus.Gauge
}

func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		policies: make(map[string]string),
		daysProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lp_lending_days_processed_total",
			Help: "Simulated trading days.",
		}, []string{"policy"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lp_lending_liquidations_total",
			Help: "Liquidation events across all simulated days.",
		}, []string{"policy"}),
		reductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lp_lending_loan_reductions_total",
			Help: "Loans reduced by the stress policy.",
		}, []string{"policy"}),
		repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lp_lending_repaid_quote_total",
			Help: "Debt repaid by liquidators, in quote units.",
		}, []string{"policy"}),
		avgHealthFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lp_lending_avg_health_factor",
			Help: "Average finite health factor of the last simulated day.",
		}, []string{"policy"}),
		avgEffectiveLTV: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lp_lending_avg_effective_ltv",
			Help: "Average effective LTV of the last simulated day.",
		}, []string{"policy"}),
		closePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lp_lending_close_price",
			Help: "Close price of the last simulated day.",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lp_lending_runs_started_total",
			Help: "Simulation runs started.",
		}),
		runsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lp_lending_runs_finished_total",
			Help: "Simulation runs finished.",
		}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lp_lending_runs_active",
			Help: "Simulation runs in progress.",
		}),
	}

	s.registry.MustRegister(
		s.daysProcessed, s.liquidations, s.reductions, s.repaid,
		s.avgHealthFactor, s.avgEffectiveLTV, s.closePrice,
		s.runsStarted, s.runsFinished, s.runActive,
	)
	return s
}

func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the sink's registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Sink) BeginRun(_ context.Context, summary domain.RunSummary) error {
	p := string(summary.Policy)
	s.mu.Lock()
	s.policies[summary.RunID] = p
	s.mu.Unlock()

	s.runsStarted.Inc()
	s.runActive.Inc()
	// Pre-create the series so dashboards show zero instead of no data.
	s.liquidations.WithLabelValues(p)
	s.reductions.WithLabelValues(p)
	return nil
}

func (s *Sink) WriteDay(_ context.Context, runID string, day domain.DayRecord, _ []domain.PositionLine) error {
	s.mu.Lock()
	p, ok := s.policies[runID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	s.daysProcessed.WithLabelValues(p).Inc()
	s.liquidations.WithLabelValues(p).Add(float64(day.LiquidationCount))
	s.reductions.WithLabelValues(p).Add(float64(day.ReductionsApplied))
	s.repaid.WithLabelValues(p).Add(day.RepaidTotal)
	if !math.IsInf(day.AvgHealthFactor, 0) {
		s.avgHealthFactor.WithLabelValues(p).Set(day.AvgHealthFactor)
	}
	s.avgEffectiveLTV.WithLabelValues(p).Set(day.AvgEffectiveLTV)
	s.closePrice.Set(day.ClosePrice)
	return nil
}

func (s *Sink) EndRun(_ context.Context, summary domain.RunSummary) error {
	s.mu.Lock()
	delete(s.policies, summary.RunID)
	s.mu.Unlock()

	s.runsFinished.Inc()
	s.runActive.Dec()
	return nil
}

func (s *Sink) AbortRun(_ context.Context, runID string, _ error) error {
	s.mu.Lock()
	_, ok := s.policies[runID]
	delete(s.policies, runID)
	s.mu.Unlock()

	if ok {
		s.runActive.Dec()
	}
	return nil
}
