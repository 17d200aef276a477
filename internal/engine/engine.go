// Package engine evaluates the daily buy signal and replays it over
// historical ranges. It combines the price cache, the trigger calculator,
// and the investment ledger into single-day decisions and deterministic
// backtests.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"buydip/internal/config"
	"buydip/internal/domain"
	"buydip/internal/ledger"
	"buydip/internal/pricecache"
)

// historyBufferDays extends the fetched range past the rolling window so
// weekends and holidays inside the window never starve it.
const historyBufferDays = 30

// Engine runs the dip-trigger decision procedure for one ticker.
type Engine struct {
	strategy config.Strategy
	cache    *pricecache.Cache
	ledger   ledger.Ledger
	log      *slog.Logger
}

// New creates an Engine. The strategy config is taken by value and never
// changes for the lifetime of the engine.
func New(strategy config.Strategy, cache *pricecache.Cache, led ledger.Ledger, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		strategy: strategy,
		cache:    cache,
		ledger:   led,
		log:      log.With("ticker", strategy.Ticker),
	}
}

// Evaluate runs the decision procedure for a single date:
//
//  1. Resolve the reference price — the prior trading day's close, or the
//     evaluation date's own close when useTodayClose is set.
//  2. Compute the rolling maximum and trigger price from prices strictly
//     before the evaluation date.
//  3. Check the trigger (reference at or below trigger) and the spacing rule.
//  4. When both hold, buy at the evaluation date's own close and record the
//     investment durably.
//
// An evaluation that does not invest is a normal outcome. Any failure to
// obtain a required price aborts with a typed error and records nothing.
func (e *Engine) Evaluate(ctx context.Context, evalDate time.Time, useTodayClose bool) (domain.EvaluationResult, error) {
	evalDate = domain.Day(evalDate)
	s := e.strategy

	dataStart := evalDate.AddDate(0, 0, -(s.RollingWindowDays + historyBufferDays))
	series, _, err := e.cache.GetRange(ctx, s.Ticker, dataStart, evalDate)
	if err != nil {
		return domain.EvaluationResult{}, err
	}

	todayPoint, hasToday := series.At(evalDate)

	var refPoint domain.PricePoint
	if useTodayClose {
		if !hasToday {
			return domain.EvaluationResult{}, &domain.PriceNotYetAvailableError{Ticker: s.Ticker, Date: evalDate}
		}
		refPoint = todayPoint
	} else {
		prior, ok := series.LastBefore(evalDate)
		if !ok {
			return domain.EvaluationResult{}, &domain.DataUnavailableError{
				Ticker: s.Ticker, Start: dataStart, End: evalDate,
				Err: fmt.Errorf("no close before %s", evalDate.Format(domain.DateLayout)),
			}
		}
		refPoint = prior
	}

	rollingMax, partialWindow, err := RollingMaximum(series, evalDate, s.RollingWindowDays, s.UseTradingDays)
	if err != nil {
		return domain.EvaluationResult{}, &domain.DataUnavailableError{
			Ticker: s.Ticker, Start: dataStart, End: evalDate, Err: err,
		}
	}
	triggerPrice := TriggerPrice(rollingMax, s.Trigger())

	triggerMet := refPoint.Close.LessThanOrEqual(triggerPrice)
	spacingOK := !e.ledger.HasRecentInvestment(evalDate, s.MinDaysBetweenInvestments)

	result := domain.EvaluationResult{
		Ticker:           s.Ticker,
		EvaluationDate:   evalDate,
		ReferencePrice:   refPoint.Close,
		ReferenceDate:    refPoint.Date,
		RollingMaximum:   rollingMax,
		TriggerPrice:     triggerPrice,
		PartialWindow:    partialWindow,
		TriggerMet:       triggerMet,
		SpacingSatisfied: spacingOK,
	}

	if partialWindow {
		e.log.Warn("rolling window has partial history",
			"date", evalDate.Format(domain.DateLayout),
			"window_days", s.RollingWindowDays,
		)
	}

	if triggerMet && spacingOK {
		// The buy fills at the evaluation date's own close, not the
		// reference price the trigger was assessed on.
		if !hasToday {
			return domain.EvaluationResult{}, &domain.DataUnavailableError{
				Ticker: s.Ticker, Start: evalDate, End: evalDate,
				Err: fmt.Errorf("no close published for %s", evalDate.Format(domain.DateLayout)),
			}
		}
		inv := domain.NewInvestment(s.Ticker, evalDate, todayPoint.Close, s.Amount())
		if err := e.ledger.Record(ctx, inv); err != nil {
			return domain.EvaluationResult{}, fmt.Errorf("recording investment for %s on %s: %w",
				s.Ticker, evalDate.Format(domain.DateLayout), err)
		}
		result.Invested = true
		result.Investment = &inv
	}

	e.log.Info("evaluated",
		"date", evalDate.Format(domain.DateLayout),
		"reference", refPoint.Close,
		"trigger", triggerPrice,
		"trigger_met", triggerMet,
		"spacing_ok", spacingOK,
		"invested", result.Invested,
	)
	return result, nil
}

// Status reports portfolio metrics for the persisted ledger at the most
// recent known close.
func (e *Engine) Status(ctx context.Context) (domain.PortfolioMetrics, domain.PricePoint, error) {
	end := domain.Day(time.Now())
	start := end.AddDate(0, 0, -14)

	series, _, err := e.cache.GetRange(ctx, e.strategy.Ticker, start, end)
	if err != nil {
		return domain.PortfolioMetrics{}, domain.PricePoint{}, err
	}
	last, ok := series.Last()
	if !ok {
		return domain.PortfolioMetrics{}, domain.PricePoint{}, &domain.DataUnavailableError{
			Ticker: e.strategy.Ticker, Start: start, End: end,
			Err: fmt.Errorf("no recent closes"),
		}
	}

	metrics, err := e.ledger.Metrics(last.Close)
	if err != nil {
		return domain.PortfolioMetrics{}, domain.PricePoint{}, err
	}
	return metrics, last, nil
}
