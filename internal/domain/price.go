// Package domain defines the core types shared across the buydip engine:
// price series, investments, evaluation and backtest results, and the error
// taxonomy surfaced to callers.
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one daily closing price. Close is always positive.
type PricePoint struct {
	Date  time.Time
	Close decimal.Decimal
}

// PriceSeries is an ordered, date-unique sequence of closing prices for one
// ticker. Calendar gaps (weekends, holidays) are expected. The slice is kept
// sorted by date; use NewPriceSeries to establish the invariant.
type PriceSeries struct {
	Ticker string
	Points []PricePoint
}

// NewPriceSeries builds a series from points in any order, deduplicating by
// date (later entries win) and sorting ascending.
func NewPriceSeries(ticker string, points []PricePoint) PriceSeries {
	byDate := make(map[time.Time]PricePoint, len(points))
	for _, p := range points {
		p.Date = Day(p.Date)
		byDate[p.Date] = p
	}
	out := make([]PricePoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return PriceSeries{Ticker: ticker, Points: out}
}

// Len returns the number of priced days.
func (s PriceSeries) Len() int { return len(s.Points) }

// At returns the point for the given date, if priced.
func (s PriceSeries) At(date time.Time) (PricePoint, bool) {
	date = Day(date)
	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Date.Before(date) })
	if i < len(s.Points) && s.Points[i].Date.Equal(date) {
		return s.Points[i], true
	}
	return PricePoint{}, false
}

// Before returns the sub-series of points strictly before date.
func (s PriceSeries) Before(date time.Time) PriceSeries {
	date = Day(date)
	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Date.Before(date) })
	return PriceSeries{Ticker: s.Ticker, Points: s.Points[:i]}
}

// Range returns the sub-series with dates in [start, end].
func (s PriceSeries) Range(start, end time.Time) PriceSeries {
	start, end = Day(start), Day(end)
	lo := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Date.Before(start) })
	hi := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Date.After(end) })
	return PriceSeries{Ticker: s.Ticker, Points: s.Points[lo:hi]}
}

// LastBefore returns the most recent point strictly before date.
func (s PriceSeries) LastBefore(date time.Time) (PricePoint, bool) {
	prior := s.Before(date)
	return prior.Last()
}

// Last returns the most recent point in the series.
func (s PriceSeries) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// First returns the earliest point in the series.
func (s PriceSeries) First() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[0], true
}
