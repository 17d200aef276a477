// Package analysis compares the dip-buying strategy against a lump-sum
// buy-and-hold baseline over a backtest period.
package analysis

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"buydip/internal/domain"
)

const daysPerYear = 365.25

// Report summarizes strategy performance against buy-and-hold over the same
// capital and period. Percentages are fractions (0.07 means 7%/yr).
type Report struct {
	Ticker string
	Start  time.Time
	End    time.Time
	Years  float64

	TotalInvested  decimal.Decimal
	FinalValue     decimal.Decimal
	StrategyCAGR   float64
	FirstBuyDate   time.Time
	ActiveYears    float64
	ActiveCAGR     float64

	BuyHoldValue decimal.Decimal
	BuyHoldCAGR  float64

	// Outperformance is StrategyCAGR minus BuyHoldCAGR over the full period.
	Outperformance float64
	// OpportunityCost is the end-value shortfall versus putting the same
	// total in at the start. Negative means the strategy came out ahead.
	OpportunityCost decimal.Decimal
}

var errNoData = errors.New("analysis: no closing prices in period")

// Compare computes strategy and buy-and-hold growth rates over [start, end].
// The baseline invests the strategy's total capital at the first close on or
// after start; both sides are valued at the last close on or before end.
func Compare(investments []domain.Investment, series domain.PriceSeries, start, end time.Time) (Report, error) {
	window := series.Range(start, end)
	first, ok := window.First()
	if !ok {
		return Report{}, errNoData
	}
	last, _ := window.Last()

	r := Report{
		Ticker: series.Ticker,
		Start:  domain.Day(start),
		End:    domain.Day(end),
		Years:  years(first.Date, last.Date),
	}

	m := domain.ComputeMetrics(investments, last.Close)
	r.TotalInvested = m.TotalInvested
	r.FinalValue = m.CurrentValue

	if len(investments) == 0 || m.TotalInvested.IsZero() {
		return r, nil
	}

	r.FirstBuyDate = investments[0].Date
	r.ActiveYears = years(r.FirstBuyDate, last.Date)
	r.StrategyCAGR = cagr(m.TotalInvested, m.CurrentValue, r.Years)
	r.ActiveCAGR = cagr(m.TotalInvested, m.CurrentValue, r.ActiveYears)

	// Lump-sum baseline: same capital, all in at the first close.
	shares := m.TotalInvested.DivRound(first.Close, 8)
	r.BuyHoldValue = shares.Mul(last.Close)
	r.BuyHoldCAGR = cagr(m.TotalInvested, r.BuyHoldValue, r.Years)

	r.Outperformance = r.StrategyCAGR - r.BuyHoldCAGR
	r.OpportunityCost = r.BuyHoldValue.Sub(r.FinalValue)
	return r, nil
}

// cagr is the only place analysis leaves decimal arithmetic: Pow needs
// floats, and an annualized rate is a display figure, not ledger money.
func cagr(invested, final decimal.Decimal, yrs float64) float64 {
	if yrs <= 0 || !invested.IsPositive() || !final.IsPositive() {
		return 0
	}
	ratio, _ := final.DivRound(invested, 12).Float64()
	return math.Pow(ratio, 1/yrs) - 1
}

func years(a, b time.Time) float64 {
	return float64(domain.DaysBetween(a, b)) / daysPerYear
}
