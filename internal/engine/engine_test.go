package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buydip/internal/config"
	"buydip/internal/domain"
	"buydip/internal/ledger"
	"buydip/internal/pricecache"
)

// fakeSource serves a fixed set of daily closes like a market-data API would.
type fakeSource struct {
	points []domain.PricePoint
	calls  int
}

func (f *fakeSource) DailyCloses(_ context.Context, _ string, start, end time.Time) ([]domain.PricePoint, error) {
	f.calls++
	var out []domain.PricePoint
	for _, p := range f.points {
		if !p.Date.Before(start) && !p.Date.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// weekdayCloses generates one close per business day starting at start.
func weekdayCloses(start string, closes ...string) []domain.PricePoint {
	d := date(start)
	points := make([]domain.PricePoint, 0, len(closes))
	for _, c := range closes {
		for !domain.IsBusinessDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		points = append(points, domain.PricePoint{Date: d, Close: decimal.RequireFromString(c)})
		d = d.AddDate(0, 0, 1)
	}
	return points
}

func testStrategy() config.Strategy {
	return config.Strategy{
		Ticker:                    "SPY",
		RollingWindowDays:         90,
		PercentageTrigger:         0.90,
		InvestmentAmount:          2000,
		MinDaysBetweenInvestments: 28,
		CacheFreshDays:            1,
	}
}

func newTestEngine(t *testing.T, src *fakeSource, led ledger.Ledger) *Engine {
	t.Helper()
	cache := pricecache.New(t.TempDir(), src)
	cache.BaseDelay = time.Millisecond
	// Pin "now" well past the test data so nothing is considered provisional.
	cache.Now = func() time.Time { return date("2025-01-01") }
	return New(testStrategy(), cache, led, quietLogger())
}

// dipPoints builds roughly four months of flat $500 closes followed by a
// crash to $440, which is below the $450 trigger (90% of the $500 maximum).
func dipPoints() []domain.PricePoint {
	closes := make([]string, 0, 90)
	for i := 0; i < 85; i++ {
		closes = append(closes, "500")
	}
	closes = append(closes, "440")
	return weekdayCloses("2024-01-01", closes...)
}

func TestEvaluateInvestsOnDip(t *testing.T) {
	src := &fakeSource{points: dipPoints()}
	led := ledger.NewMemoryLedger(28)
	eng := newTestEngine(t, src, led)

	crashDay := src.points[len(src.points)-1].Date
	res, err := eng.Evaluate(context.Background(), crashDay, true)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !res.TriggerMet {
		t.Error("trigger not met for a close 12% below the rolling maximum")
	}
	if !res.Invested {
		t.Fatal("expected an investment on the dip day")
	}
	inv := res.Investment
	if !inv.Price.Equal(decimal.NewFromInt(440)) {
		t.Errorf("fill price = %s, want the dip day's own close 440", inv.Price)
	}
	if !inv.Amount.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("amount = %s, want 2000", inv.Amount)
	}

	recorded, _ := led.Investments()
	if len(recorded) != 1 {
		t.Fatalf("ledger holds %d investments, want 1", len(recorded))
	}
}

func TestEvaluateNoDip(t *testing.T) {
	src := &fakeSource{points: weekdayCloses("2024-01-01", "500", "500", "500", "499")}
	eng := newTestEngine(t, src, ledger.NewMemoryLedger(28))

	lastDay := src.points[len(src.points)-1].Date
	res, err := eng.Evaluate(context.Background(), lastDay, true)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.TriggerMet {
		t.Error("a 0.2% drop must not meet a 10% trigger")
	}
	if res.Invested {
		t.Error("no investment expected without a trigger")
	}
}

func TestEvaluateReferenceIsPriorClose(t *testing.T) {
	// Prior close is below the trigger but today's close has recovered.
	// In prior-close mode the dip still fires, filling at today's price.
	closes := make([]string, 0, 90)
	for i := 0; i < 84; i++ {
		closes = append(closes, "500")
	}
	closes = append(closes, "440", "470")
	src := &fakeSource{points: weekdayCloses("2024-01-01", closes...)}
	led := ledger.NewMemoryLedger(28)
	eng := newTestEngine(t, src, led)

	today := src.points[len(src.points)-1].Date
	res, err := eng.Evaluate(context.Background(), today, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.ReferencePrice.Equal(decimal.NewFromInt(440)) {
		t.Errorf("reference = %s, want prior close 440", res.ReferencePrice)
	}
	if !res.Invested {
		t.Fatal("expected an investment off the prior close")
	}
	if !res.Investment.Price.Equal(decimal.NewFromInt(470)) {
		t.Errorf("fill price = %s, want today's close 470", res.Investment.Price)
	}
}

func TestEvaluateSpacingBlocksSecondBuy(t *testing.T) {
	src := &fakeSource{points: dipPoints()}
	led := ledger.NewMemoryLedger(28)
	eng := newTestEngine(t, src, led)

	crashDay := src.points[len(src.points)-1].Date
	if _, err := eng.Evaluate(context.Background(), crashDay, true); err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}

	// Still dipped a week later.
	week := crashDay.AddDate(0, 0, 7)
	src.points = append(src.points, domain.PricePoint{Date: domain.Day(week), Close: decimal.NewFromInt(430)})
	for !domain.IsBusinessDay(src.points[len(src.points)-1].Date) {
		src.points[len(src.points)-1].Date = src.points[len(src.points)-1].Date.AddDate(0, 0, 1)
	}
	day := src.points[len(src.points)-1].Date

	res, err := eng.Evaluate(context.Background(), day, true)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if !res.TriggerMet {
		t.Error("trigger should still be met")
	}
	if res.SpacingSatisfied {
		t.Error("an investment 7 days ago must block a new one for 28 days")
	}
	if res.Invested {
		t.Error("blocked evaluation must not invest")
	}
}

func TestEvaluateTodayCloseNotYetAvailable(t *testing.T) {
	src := &fakeSource{points: weekdayCloses("2024-01-01", "500", "500", "500")}
	eng := newTestEngine(t, src, ledger.NewMemoryLedger(28))

	// A Saturday has no close in today-close mode.
	_, err := eng.Evaluate(context.Background(), date("2024-01-06"), true)
	var notYet *domain.PriceNotYetAvailableError
	if !errors.As(err, &notYet) {
		t.Fatalf("err = %v, want PriceNotYetAvailableError", err)
	}
}

func TestBacktestCountsAndSpacing(t *testing.T) {
	// Flat at 500, then a long dip: every dipped day meets the trigger but
	// spacing allows only one buy per 28 days.
	closes := make([]string, 0, 150)
	for i := 0; i < 85; i++ {
		closes = append(closes, "500")
	}
	for i := 0; i < 45; i++ {
		closes = append(closes, "430")
	}
	src := &fakeSource{points: weekdayCloses("2024-01-01", closes...)}
	eng := newTestEngine(t, src, ledger.NewMemoryLedger(28))

	start := src.points[0].Date
	end := src.points[len(src.points)-1].Date
	res, err := eng.Backtest(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}

	if res.TriggersMet == 0 {
		t.Fatal("expected dip triggers during the crash")
	}
	// 45 business days of dip span 63 calendar days: buys on day 1, +28,
	// +56 at most.
	if res.InvestmentsExecuted < 2 || res.InvestmentsExecuted > 3 {
		t.Errorf("InvestmentsExecuted = %d, want 2 or 3 with 28-day spacing", res.InvestmentsExecuted)
	}
	if res.InvestmentsBlocked == 0 {
		t.Error("expected spacing to block repeat buys during the dip")
	}
	if got := res.TriggersMet; got != res.InvestmentsExecuted+res.InvestmentsBlocked {
		t.Errorf("TriggersMet = %d, want executed+blocked = %d",
			got, res.InvestmentsExecuted+res.InvestmentsBlocked)
	}
	if len(res.Investments) != res.InvestmentsExecuted {
		t.Errorf("len(Investments) = %d, want %d", len(res.Investments), res.InvestmentsExecuted)
	}
	if res.FinalMetrics.InvestmentCount != res.InvestmentsExecuted {
		t.Errorf("FinalMetrics.InvestmentCount = %d, want %d",
			res.FinalMetrics.InvestmentCount, res.InvestmentsExecuted)
	}

	// Consecutive simulated buys honour the spacing rule.
	for i := 1; i < len(res.Investments); i++ {
		gap := domain.DaysBetween(res.Investments[i-1].Date, res.Investments[i].Date)
		if gap < 28 {
			t.Errorf("buys %d and %d are %d days apart, want >= 28", i-1, i, gap)
		}
	}
}

func TestBacktestDeterministic(t *testing.T) {
	run := func() domain.BacktestResult {
		src := &fakeSource{points: dipPoints()}
		eng := newTestEngine(t, src, ledger.NewMemoryLedger(28))
		res, err := eng.Backtest(context.Background(), src.points[0].Date, src.points[len(src.points)-1].Date)
		if err != nil {
			t.Fatalf("Backtest: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if a.Evaluations != b.Evaluations || a.TriggersMet != b.TriggersMet ||
		a.InvestmentsExecuted != b.InvestmentsExecuted || a.InvestmentsBlocked != b.InvestmentsBlocked {
		t.Fatalf("tallies differ between identical runs: %+v vs %+v", a, b)
	}
	if len(a.Investments) != len(b.Investments) {
		t.Fatalf("investment counts differ: %d vs %d", len(a.Investments), len(b.Investments))
	}
	for i := range a.Investments {
		x, y := a.Investments[i], b.Investments[i]
		if x.ID != y.ID || !x.Date.Equal(y.Date) || !x.Price.Equal(y.Price) || !x.Shares.Equal(y.Shares) {
			t.Errorf("investment %d differs between runs: %+v vs %+v", i, x, y)
		}
	}
	if !a.FinalMetrics.CurrentValue.Equal(b.FinalMetrics.CurrentValue) {
		t.Errorf("final values differ: %s vs %s", a.FinalMetrics.CurrentValue, b.FinalMetrics.CurrentValue)
	}
}

func TestBacktestDoesNotTouchLedger(t *testing.T) {
	src := &fakeSource{points: dipPoints()}
	led := ledger.NewMemoryLedger(28)
	eng := newTestEngine(t, src, led)

	_, err := eng.Backtest(context.Background(), src.points[0].Date, src.points[len(src.points)-1].Date)
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	invs, _ := led.Investments()
	if len(invs) != 0 {
		t.Errorf("backtest wrote %d investments into the engine's ledger", len(invs))
	}
}

func TestBacktestCancelled(t *testing.T) {
	src := &fakeSource{points: dipPoints()}
	eng := newTestEngine(t, src, ledger.NewMemoryLedger(28))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Backtest(ctx, src.points[0].Date, src.points[len(src.points)-1].Date); err == nil {
		t.Error("expected an error from a cancelled backtest")
	}
}
