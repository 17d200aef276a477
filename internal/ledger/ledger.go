// Package ledger is the durable, append-only record of executed investments
// and the single place the minimum-spacing rule is encoded.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"buydip/internal/domain"
)

// ErrSpacingViolation is returned by Record when a new investment falls too
// close to an existing one. The spacing check is also available to callers
// via HasRecentInvestment; Record enforcing it again keeps the persisted
// invariant independent of caller discipline.
var ErrSpacingViolation = errors.New("investment violates minimum spacing")

// Ledger answers spacing queries and records investments durably.
type Ledger interface {
	// Record appends the investment, persisting it before returning success.
	Record(ctx context.Context, inv domain.Investment) error

	// HasRecentInvestment reports whether any recorded investment falls
	// strictly within minDays before asOf.
	HasRecentInvestment(asOf time.Time, minDays int) bool

	// Investments returns all records ordered by date.
	Investments() ([]domain.Investment, error)

	// Metrics aggregates the ledger against a current price.
	Metrics(currentPrice decimal.Decimal) (domain.PortfolioMetrics, error)
}

// blockedBySpacing is the one strict-inequality comparison behind the
// "N days between investments" rule: an investment made exactly minDays
// earlier does NOT block a new one, one day less does.
func blockedBySpacing(prev, asOf time.Time, minDays int) bool {
	diff := domain.DaysBetween(prev, asOf)
	return diff > 0 && diff < minDays
}

func anyRecent(investments []domain.Investment, asOf time.Time, minDays int) bool {
	for _, inv := range investments {
		if blockedBySpacing(inv.Date, asOf, minDays) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// In-memory ledger
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger keeps investments in memory only. The backtest simulator uses
// it so simulated buys never touch the persisted ledger.
type MemoryLedger struct {
	minDays     int
	investments []domain.Investment
}

// NewMemoryLedger creates an empty in-memory ledger enforcing minDays
// spacing at write time.
func NewMemoryLedger(minDays int) *MemoryLedger {
	return &MemoryLedger{minDays: minDays}
}

// Record appends the investment after checking the spacing invariant.
func (l *MemoryLedger) Record(_ context.Context, inv domain.Investment) error {
	if anyRecent(l.investments, inv.Date, l.minDays) {
		return fmt.Errorf("%s on %s: %w", inv.Ticker, inv.Date.Format(domain.DateLayout), ErrSpacingViolation)
	}
	l.investments = append(l.investments, inv)
	sort.Slice(l.investments, func(i, j int) bool {
		return l.investments[i].Date.Before(l.investments[j].Date)
	})
	return nil
}

// HasRecentInvestment reports whether an investment falls strictly within
// minDays before asOf.
func (l *MemoryLedger) HasRecentInvestment(asOf time.Time, minDays int) bool {
	return anyRecent(l.investments, asOf, minDays)
}

// Investments returns a copy of all records ordered by date.
func (l *MemoryLedger) Investments() ([]domain.Investment, error) {
	out := make([]domain.Investment, len(l.investments))
	copy(out, l.investments)
	return out, nil
}

// Metrics aggregates the ledger against a current price.
func (l *MemoryLedger) Metrics(currentPrice decimal.Decimal) (domain.PortfolioMetrics, error) {
	return domain.ComputeMetrics(l.investments, currentPrice), nil
}
