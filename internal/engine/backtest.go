package engine

import (
	"context"
	"fmt"
	"time"

	"buydip/internal/domain"
	"buydip/internal/ledger"
)

// Backtest replays the daily decision procedure over [start, end] against
// one frozen view of history and a fresh in-memory ledger. The persisted
// ledger is never touched, so a backtest has no side effects and aborting it
// is always safe. For a fixed price series and configuration the result is
// identical across runs.
func (e *Engine) Backtest(ctx context.Context, start, end time.Time) (domain.BacktestResult, error) {
	start, end = domain.Day(start), domain.Day(end)
	if end.Before(start) {
		return domain.BacktestResult{}, fmt.Errorf("backtest range: end %s before start %s",
			end.Format(domain.DateLayout), start.Format(domain.DateLayout))
	}
	s := e.strategy

	dataStart := start.AddDate(0, 0, -(s.RollingWindowDays + historyBufferDays))
	frozen, partial, err := e.cache.GetRange(ctx, s.Ticker, dataStart, end)
	if err != nil {
		return domain.BacktestResult{}, err
	}
	if partial {
		e.log.Warn("backtesting against partial price data",
			"start", start.Format(domain.DateLayout),
			"end", end.Format(domain.DateLayout),
		)
	}

	sim := ledger.NewMemoryLedger(s.MinDaysBetweenInvestments)
	trigger := s.Trigger()
	amount := s.Amount()

	result := domain.BacktestResult{Ticker: s.Ticker, Start: start, End: end}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		// A multi-year replay should stop promptly on interruption.
		if err := ctx.Err(); err != nil {
			return domain.BacktestResult{}, fmt.Errorf("backtest interrupted at %s: %w",
				d.Format(domain.DateLayout), err)
		}

		point, ok := frozen.At(d)
		if !ok {
			continue // weekend or holiday
		}
		ref, ok := frozen.LastBefore(d)
		if !ok {
			continue // first bar of the series, nothing to assess against
		}

		rollingMax, _, err := RollingMaximum(frozen, d, s.RollingWindowDays, s.UseTradingDays)
		if err != nil {
			continue
		}
		triggerPrice := TriggerPrice(rollingMax, trigger)

		result.Evaluations++
		if !ref.Close.LessThanOrEqual(triggerPrice) {
			continue
		}
		result.TriggersMet++

		if sim.HasRecentInvestment(d, s.MinDaysBetweenInvestments) {
			result.InvestmentsBlocked++
			continue
		}

		inv := domain.SimulatedInvestment(s.Ticker, d, point.Close, amount)
		if err := sim.Record(ctx, inv); err != nil {
			return domain.BacktestResult{}, err
		}
		result.InvestmentsExecuted++
	}

	investments, err := sim.Investments()
	if err != nil {
		return domain.BacktestResult{}, err
	}
	result.Investments = investments

	if last, ok := frozen.Range(start, end).Last(); ok {
		result.FinalMetrics = domain.ComputeMetrics(investments, last.Close)
	}

	e.log.Info("backtest complete",
		"start", start.Format(domain.DateLayout),
		"end", end.Format(domain.DateLayout),
		"evaluations", result.Evaluations,
		"triggers_met", result.TriggersMet,
		"executed", result.InvestmentsExecuted,
		"blocked", result.InvestmentsBlocked,
	)
	return result, nil
}
