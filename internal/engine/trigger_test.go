package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buydip/internal/domain"
)

func date(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// series builds a price series with one close per consecutive calendar day
// starting at start.
func series(t *testing.T, start string, closes ...string) domain.PriceSeries {
	t.Helper()
	d := date(start)
	points := make([]domain.PricePoint, 0, len(closes))
	for _, c := range closes {
		points = append(points, domain.PricePoint{Date: d, Close: decimal.RequireFromString(c)})
		d = d.AddDate(0, 0, 1)
	}
	return domain.NewPriceSeries("SPY", points)
}

func TestRollingMaximumExcludesEvaluationDay(t *testing.T) {
	// The highest close is on the evaluation day itself; it must not count.
	s := series(t, "2024-03-01", "100", "102", "101", "999")
	asOf := date("2024-03-04")

	max, partial, err := RollingMaximum(s, asOf, 90, false)
	if err != nil {
		t.Fatalf("RollingMaximum: %v", err)
	}
	if !max.Equal(decimal.NewFromInt(102)) {
		t.Errorf("max = %s, want 102", max)
	}
	if !partial {
		t.Error("expected partial window with only 3 prior days of a 90-day window")
	}
}

func TestRollingMaximumCalendarWindowBounds(t *testing.T) {
	// 10 consecutive days; a 5-day calendar window as of the last day must
	// only see days asOf-5 .. asOf-1.
	s := series(t, "2024-03-01",
		"300", "300", "300", "300", // outside the window
		"110", "111", "112", "113", "114", // inside
		"100") // evaluation day
	asOf := date("2024-03-10")

	max, partial, err := RollingMaximum(s, asOf, 5, false)
	if err != nil {
		t.Fatalf("RollingMaximum: %v", err)
	}
	if !max.Equal(decimal.NewFromInt(114)) {
		t.Errorf("max = %s, want 114 (older 300s lie outside the window)", max)
	}
	if partial {
		t.Error("full window was available, partial should be false")
	}
}

func TestRollingMaximumTradingDayWindow(t *testing.T) {
	s := series(t, "2024-03-01", "500", "120", "121", "122", "100")
	asOf := date("2024-03-05")

	// Last 3 trading entries before asOf: 120, 121, 122.
	max, partial, err := RollingMaximum(s, asOf, 3, true)
	if err != nil {
		t.Fatalf("RollingMaximum: %v", err)
	}
	if !max.Equal(decimal.NewFromInt(122)) {
		t.Errorf("max = %s, want 122", max)
	}
	if partial {
		t.Error("3 prior entries satisfy a 3-entry window, partial should be false")
	}

	// Asking for more entries than exist flags partial and uses them all.
	max, partial, err = RollingMaximum(s, asOf, 10, true)
	if err != nil {
		t.Fatalf("RollingMaximum: %v", err)
	}
	if !max.Equal(decimal.NewFromInt(500)) {
		t.Errorf("max = %s, want 500", max)
	}
	if !partial {
		t.Error("4 prior entries cannot fill a 10-entry window, partial should be true")
	}
}

func TestRollingMaximumNoHistory(t *testing.T) {
	s := series(t, "2024-03-05", "100")
	if _, _, err := RollingMaximum(s, date("2024-03-05"), 90, false); err == nil {
		t.Error("expected error when no prices exist before the evaluation day")
	}
}

func TestTriggerPriceBoundary(t *testing.T) {
	trigger := TriggerPrice(decimal.NewFromInt(500), decimal.RequireFromString("0.90"))
	if !trigger.Equal(decimal.RequireFromString("450")) {
		t.Fatalf("trigger = %s, want 450", trigger)
	}

	// At the trigger price exactly, the dip fires; one cent above, it does not.
	at := decimal.RequireFromString("450.00")
	above := decimal.RequireFromString("450.01")
	if !at.LessThanOrEqual(trigger) {
		t.Error("close equal to the trigger price must fire")
	}
	if above.LessThanOrEqual(trigger) {
		t.Error("close above the trigger price must not fire")
	}
}
