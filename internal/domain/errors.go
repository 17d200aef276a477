package domain

import (
	"fmt"
	"time"
)

// DataUnavailableError is returned when required price data could not be
// obtained: the external source failed after the bounded retries, or the
// ticker is genuinely unknown, and the cache could not satisfy the request.
type DataUnavailableError struct {
	Ticker string
	Start  time.Time
	End    time.Time
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("price data unavailable for %s [%s, %s]: %v",
		e.Ticker, e.Start.Format(DateLayout), e.End.Format(DateLayout), e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// PriceNotYetAvailableError is returned only in use-today-close mode, when
// the evaluation date's close has not been published yet.
type PriceNotYetAvailableError struct {
	Ticker string
	Date   time.Time
}

func (e *PriceNotYetAvailableError) Error() string {
	return fmt.Sprintf("closing price for %s on %s is not yet available",
		e.Ticker, e.Date.Format(DateLayout))
}

// PersistenceCorruptedError is returned when a persisted store is unreadable
// and could not be recovered by reinitialising it.
type PersistenceCorruptedError struct {
	Path string
	Err  error
}

func (e *PersistenceCorruptedError) Error() string {
	return fmt.Sprintf("persisted store %s is corrupted: %v", e.Path, e.Err)
}

func (e *PersistenceCorruptedError) Unwrap() error { return e.Err }

// InvalidConfigError rejects a configuration before any evaluation begins.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}
