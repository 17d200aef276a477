package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"buydip/internal/domain"
)

// RollingMaximum computes the maximum closing price over the trailing window
// ending the day before asOf. The evaluation date's own price is never part
// of the window: the trigger is computed from information available strictly
// before the evaluation day.
//
// In calendar mode the window is every priced day in [asOf-windowDays,
// asOf-1]; in trading-day mode it is the last windowDays priced entries
// before asOf. When less history exists than the window asks for, all
// available points are used and partial is set so callers can see the signal
// is weakened.
func RollingMaximum(series domain.PriceSeries, asOf time.Time, windowDays int, tradingDays bool) (max decimal.Decimal, partial bool, err error) {
	asOf = domain.Day(asOf)
	prior := series.Before(asOf)
	if prior.Len() == 0 {
		return decimal.Zero, false, fmt.Errorf("no priced history before %s", asOf.Format(domain.DateLayout))
	}

	var window domain.PriceSeries
	if tradingDays {
		if prior.Len() < windowDays {
			partial = true
			window = prior
		} else {
			window = domain.PriceSeries{
				Ticker: prior.Ticker,
				Points: prior.Points[prior.Len()-windowDays:],
			}
		}
	} else {
		windowStart := asOf.AddDate(0, 0, -windowDays)
		window = prior.Range(windowStart, asOf.AddDate(0, 0, -1))
		if first, ok := prior.First(); ok && first.Date.After(windowStart) {
			partial = true
		}
		if window.Len() == 0 {
			// History exists but none of it falls inside the calendar
			// window; fall back to everything we have.
			window = prior
			partial = true
		}
	}

	max = window.Points[0].Close
	for _, p := range window.Points[1:] {
		if p.Close.GreaterThan(max) {
			max = p.Close
		}
	}
	return max, partial, nil
}

// TriggerPrice is the threshold at or below which a buy may fire:
// rolling maximum × percentage trigger.
func TriggerPrice(rollingMax, pct decimal.Decimal) decimal.Decimal {
	return rollingMax.Mul(pct)
}
