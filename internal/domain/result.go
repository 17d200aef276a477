package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvaluationResult reports the outcome of one daily evaluation. An evaluation
// that does not invest is a normal outcome, not an error.
type EvaluationResult struct {
	Ticker         string
	EvaluationDate time.Time

	// ReferencePrice is the close the trigger was assessed against: the prior
	// trading day's close, or the evaluation date's own close in
	// use-today-close mode.
	ReferencePrice decimal.Decimal
	ReferenceDate  time.Time

	RollingMaximum decimal.Decimal
	TriggerPrice   decimal.Decimal

	// PartialWindow is set when fewer priced days existed than the configured
	// rolling window, weakening the signal early in a series.
	PartialWindow bool

	TriggerMet       bool
	SpacingSatisfied bool
	Invested         bool
	Investment       *Investment
}

// BacktestResult summarises a deterministic replay of the daily evaluation
// procedure over a historical range.
type BacktestResult struct {
	Ticker string
	Start  time.Time
	End    time.Time

	Evaluations         int
	TriggersMet         int
	InvestmentsExecuted int
	// InvestmentsBlocked counts days where the trigger was met but the
	// spacing rule prevented a buy.
	InvestmentsBlocked int

	Investments  []Investment
	FinalMetrics PortfolioMetrics
}
