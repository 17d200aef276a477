// Package pricesource defines the external daily-price collaborator and its
// Alpaca implementation.
package pricesource

import (
	"context"
	"errors"
	"time"

	"buydip/internal/domain"
)

// ErrUnknownTicker distinguishes a genuinely unknown symbol from a transient
// source failure. Callers must not retry it.
var ErrUnknownTicker = errors.New("unknown ticker")

// Source returns daily closing prices for a ticker within [start, end].
// Implementations may fail with ErrUnknownTicker (wrapped) or any transient
// error; retry policy is the caller's concern.
type Source interface {
	DailyCloses(ctx context.Context, ticker string, start, end time.Time) ([]domain.PricePoint, error)
}
