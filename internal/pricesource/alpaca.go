package pricesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"buydip/internal/domain"
	"buydip/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// AlpacaSource fetches daily bars from the Alpaca market-data API.
type AlpacaSource struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	feed    marketdata.Feed
	log     *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials. An
// empty dataURL uses the SDK default endpoint.
func NewAlpacaSource(apiKey, apiSecret, dataURL string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaSource{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(180),
		feed:    marketdata.IEX,
		log:     slog.Default().With("source", "alpaca"),
	}
}

// DailyCloses fetches daily bars for ticker in [start, end] and converts them
// to price points. Bar closes arrive as binary floats; they are converted to
// decimal once here and stay decimal everywhere else.
func (s *AlpacaSource) DailyCloses(ctx context.Context, ticker string, start, end time.Time) ([]domain.PricePoint, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	bars, err := s.client.GetBars(strings.ToUpper(ticker), marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     domain.Day(start),
		End:       domain.Day(end).Add(24*time.Hour - time.Second),
		Feed:      s.feed,
	})
	if err != nil {
		return nil, classify(ticker, err)
	}

	points := make([]domain.PricePoint, 0, len(bars))
	for _, b := range bars {
		points = append(points, domain.PricePoint{
			Date:  domain.Day(b.Timestamp),
			Close: decimal.NewFromFloat(b.Close),
		})
	}

	s.log.Debug("fetched daily closes",
		"ticker", ticker,
		"start", start.Format(domain.DateLayout),
		"end", end.Format(domain.DateLayout),
		"points", len(points),
	)
	return points, nil
}

// classify maps an Alpaca API error onto the source error taxonomy: client
// errors about the symbol itself become ErrUnknownTicker, everything else is
// treated as transient.
func classify(ticker string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 404, 422:
			return fmt.Errorf("%s: %w", ticker, ErrUnknownTicker)
		}
	}
	return fmt.Errorf("alpaca: %w", err)
}
