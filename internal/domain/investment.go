package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sharesPrecision bounds the decimal division amount/price. Eight fractional
// digits is finer than any broker reports fractional shares.
const sharesPrecision = 8

// Investment is one executed buy. Records are immutable once created and the
// ledger they live in is append-only.
type Investment struct {
	ID     string
	Ticker string
	Date   time.Time
	Price  decimal.Decimal
	Amount decimal.Decimal
	Shares decimal.Decimal
}

// NewInvestment creates an investment record, deriving shares = amount/price.
func NewInvestment(ticker string, date time.Time, price, amount decimal.Decimal) Investment {
	return Investment{
		ID:     uuid.NewString(),
		Ticker: ticker,
		Date:   Day(date),
		Price:  price,
		Amount: amount,
		Shares: amount.DivRound(price, sharesPrecision),
	}
}

// SimulatedInvestment is NewInvestment with a deterministic ID derived from
// ticker and date, so two backtest runs over the same inputs produce
// identical results.
func SimulatedInvestment(ticker string, date time.Time, price, amount decimal.Decimal) Investment {
	inv := NewInvestment(ticker, date, price, amount)
	inv.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ticker+"/"+inv.Date.Format(DateLayout))).String()
	return inv
}

// PortfolioMetrics aggregates a set of investments against a current price.
type PortfolioMetrics struct {
	InvestmentCount  int
	TotalInvested    decimal.Decimal
	TotalShares      decimal.Decimal
	CurrentValue     decimal.Decimal
	TotalReturn      decimal.Decimal
	PercentageReturn decimal.Decimal
}

// ComputeMetrics is the single aggregation used by both the live ledger and
// the backtest simulator. PercentageReturn is zero, not an error, when
// nothing has been invested.
func ComputeMetrics(investments []Investment, currentPrice decimal.Decimal) PortfolioMetrics {
	var invested, shares decimal.Decimal
	for _, inv := range investments {
		invested = invested.Add(inv.Amount)
		shares = shares.Add(inv.Shares)
	}

	value := shares.Mul(currentPrice)
	ret := value.Sub(invested)

	pct := decimal.Zero
	if invested.IsPositive() {
		pct = ret.DivRound(invested, sharesPrecision)
	}

	return PortfolioMetrics{
		InvestmentCount:  len(investments),
		TotalInvested:    invested,
		TotalShares:      shares,
		CurrentValue:     value,
		TotalReturn:      ret,
		PercentageReturn: pct,
	}
}
