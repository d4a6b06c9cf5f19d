package usecase

import (
	"context"
	"errors"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

// DiscardSink ignores all simulation output.
type DiscardSink struct{}

func (DiscardSink) BeginRun(context.Context, domain.RunSummary) error { return nil }
func (DiscardSink) WriteDay(context.Context, string, domain.DayRecord, []domain.PositionLine) error {
	return nil
}
func (DiscardSink) EndRun(context.Context, domain.RunSummary) error { return nil }

// MultiSink forwards every call to all sinks in order. Every sink is called
// even if an earlier one fails; the errors are joined.
type MultiSink []domain.ResultSink

func (m MultiSink) BeginRun(ctx context.Context, summary domain.RunSummary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.BeginRun(ctx, summary))
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteDay(ctx context.Context, runID string, day domain.DayRecord, lines []domain.PositionLine) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteDay(ctx, runID, day, lines))
	}
	return errors.Join(errs...)
}

func (m MultiSink) EndRun(ctx context.Context, summary domain.RunSummary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.EndRun(ctx, summary))
	}
	return errors.Join(errs...)
}

// AbortRun forwards to the sinks that implement domain.RunAborter.
func (m MultiSink) AbortRun(ctx context.Context, runID string, cause error) error {
	var errs []error
	for _, s := range m {
		if a, ok := s.(domain.RunAborter); ok {
			errs = append(errs, a.AbortRun(ctx, runID, cause))
		}
	}
	return errors.Join(errs...)
}
