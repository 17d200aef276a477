// Package pricecache is the persisted, date-indexed store of daily closing
// prices per ticker. It answers range queries, synchronously filling gaps
// from the external price source, and merges fetched data idempotently into
// Parquet files on disk.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"buydip/internal/domain"
	"buydip/internal/pricesource"
	"buydip/internal/util"
)

// schemaVersion is written into every row so older files remain readable as
// the record evolves; unknown columns in old files read as zero values.
const schemaVersion = 1

// fetch retry policy (bounded, exponential backoff).
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// priceRecord is the Parquet schema for cached daily closes. Close is a
// decimal string so prices round-trip exactly.
type priceRecord struct {
	Ticker    string `parquet:"ticker"`
	Date      string `parquet:"date"` // YYYY-MM-DD
	Close     string `parquet:"close"`
	FetchedAt int64  `parquet:"fetched_at,timestamp(millisecond)"` // Unix ms
	Schema    int32  `parquet:"schema"`
}

// Mismatch is one per-date disagreement between the cache and a fresh fetch.
type Mismatch struct {
	Date    time.Time
	Cached  decimal.Decimal
	Fetched decimal.Decimal
}

// Info describes the cached state for a ticker.
type Info struct {
	Ticker  string
	Cached  bool
	Records int
	Start   time.Time
	End     time.Time
}

// Cache owns the persisted price series for each ticker. Construct one per
// process invocation; it holds no global state.
type Cache struct {
	dir    string
	source pricesource.Source

	// FreshDays is how many days after a close it takes to be considered
	// final. A close fetched on its own calendar date is provisional and will
	// be re-fetched (and overwritten) by the next range query.
	FreshDays int

	// MaxAttempts and BaseDelay bound the fetch retry policy.
	MaxAttempts int
	BaseDelay   time.Duration

	// Now is injectable for tests.
	Now func() time.Time

	log *slog.Logger
}

// New creates a Cache rooted at dir, filling gaps from source.
func New(dir string, source pricesource.Source) *Cache {
	return &Cache{
		dir:         dir,
		source:      source,
		FreshDays:   1,
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Now:         time.Now,
		log:         slog.Default().With("component", "pricecache"),
	}
}

// ---------------------------------------------------------------------------
// Range queries
// ---------------------------------------------------------------------------

// GetRange returns all known closing prices in [start, end]. Missing or stale
// sub-ranges are fetched from the source, merged into the persisted series
// (fresh data overwrites cached data for the same date), and re-saved before
// returning. When the source is unavailable, cached data covering part of the
// request is returned with partial=true; with no usable cached data the call
// fails with DataUnavailable.
func (c *Cache) GetRange(ctx context.Context, ticker string, start, end time.Time) (domain.PriceSeries, bool, error) {
	ticker = strings.ToUpper(ticker)
	start, end = domain.Day(start), domain.Day(end)
	if end.Before(start) {
		return domain.PriceSeries{}, false, fmt.Errorf("invalid range: %s after %s",
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}

	cached, err := c.load(ticker, start.Year(), end.Year())
	if err != nil {
		return domain.PriceSeries{}, false, err
	}

	// Never ask the source for the future.
	today := domain.Day(c.Now())
	fetchEnd := end
	if fetchEnd.After(today) {
		fetchEnd = today
	}

	missing := c.missingRanges(cached, start, fetchEnd)

	var (
		fetched  []domain.PricePoint
		fetchErr error
	)
	for _, r := range missing {
		var points []domain.PricePoint
		err := util.Retry(ctx, c.MaxAttempts, c.BaseDelay, func() error {
			var ferr error
			points, ferr = c.source.DailyCloses(ctx, ticker, r.start, r.end)
			if errors.Is(ferr, pricesource.ErrUnknownTicker) {
				return util.Permanent(ferr)
			}
			return ferr
		})
		if err != nil {
			fetchErr = err
			c.log.Warn("fetch failed",
				"ticker", ticker,
				"start", r.start.Format(domain.DateLayout),
				"end", r.end.Format(domain.DateLayout),
				"err", err,
			)
			continue
		}
		fetched = append(fetched, points...)
	}

	merged := cached
	if len(fetched) > 0 {
		merged = mergeRecords(cached, c.toRecords(ticker, fetched))
		if err := c.save(ticker, merged); err != nil {
			return domain.PriceSeries{}, false, err
		}
	}

	series := recordsToSeries(ticker, merged).Range(start, end)

	if fetchErr != nil {
		if series.Len() == 0 {
			return domain.PriceSeries{}, false, &domain.DataUnavailableError{
				Ticker: ticker, Start: start, End: end, Err: fetchErr,
			}
		}
		// Incomplete at the edges: hand back what we have, flagged.
		return series, true, nil
	}
	return series, false, nil
}

// Invalidate discards the persisted cache for a ticker. The next GetRange
// call re-fetches from the source.
func (c *Cache) Invalidate(ticker string) error {
	return os.RemoveAll(c.tickerDir(strings.ToUpper(ticker)))
}

// Validate compares persisted prices against freshly fetched truth for the
// cached date range and reports per-date mismatches beyond one cent. The
// cache is not mutated.
func (c *Cache) Validate(ctx context.Context, ticker string) ([]Mismatch, error) {
	ticker = strings.ToUpper(ticker)

	info, err := c.CacheInfo(ticker)
	if err != nil {
		return nil, err
	}
	if !info.Cached {
		return nil, nil
	}

	cached, err := c.load(ticker, info.Start.Year(), info.End.Year())
	if err != nil {
		return nil, err
	}

	var fresh []domain.PricePoint
	err = util.Retry(ctx, c.MaxAttempts, c.BaseDelay, func() error {
		var ferr error
		fresh, ferr = c.source.DailyCloses(ctx, ticker, info.Start, info.End)
		if errors.Is(ferr, pricesource.ErrUnknownTicker) {
			return util.Permanent(ferr)
		}
		return ferr
	})
	if err != nil {
		return nil, &domain.DataUnavailableError{Ticker: ticker, Start: info.Start, End: info.End, Err: err}
	}

	freshByDate := make(map[string]decimal.Decimal, len(fresh))
	for _, p := range fresh {
		freshByDate[p.Date.Format(domain.DateLayout)] = p.Close
	}

	tolerance := decimal.New(1, -2) // one cent

	var mismatches []Mismatch
	for _, rec := range cached {
		truth, ok := freshByDate[rec.Date]
		if !ok {
			continue
		}
		cachedClose, perr := decimal.NewFromString(rec.Close)
		if perr != nil {
			return nil, fmt.Errorf("corrupt cached close for %s on %s: %w", ticker, rec.Date, perr)
		}
		if cachedClose.Sub(truth).Abs().GreaterThan(tolerance) {
			d, _ := domain.ParseDate(rec.Date)
			mismatches = append(mismatches, Mismatch{Date: d, Cached: cachedClose, Fetched: truth})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Date.Before(mismatches[j].Date) })
	return mismatches, nil
}

// CacheInfo reports what is persisted for a ticker without touching the
// source.
func (c *Cache) CacheInfo(ticker string) (Info, error) {
	ticker = strings.ToUpper(ticker)
	info := Info{Ticker: ticker}

	years, err := c.cachedYears(ticker)
	if err != nil {
		return Info{}, err
	}
	if len(years) == 0 {
		return info, nil
	}

	recs, err := c.load(ticker, years[0], years[len(years)-1])
	if err != nil {
		return Info{}, err
	}
	if len(recs) == 0 {
		return info, nil
	}

	info.Cached = true
	info.Records = len(recs)
	info.Start, _ = domain.ParseDate(recs[0].Date)
	info.End, _ = domain.ParseDate(recs[len(recs)-1].Date)
	return info, nil
}

// ---------------------------------------------------------------------------
// Gap detection
// ---------------------------------------------------------------------------

type dateRange struct {
	start, end time.Time
}

// missingRanges returns the contiguous sub-ranges of [start, end] that must
// be fetched: business days absent from the cache, plus cached days whose
// stored close is still provisional. Nearby gaps (weekends) coalesce into one
// range to keep the number of source calls small.
func (c *Cache) missingRanges(cached []priceRecord, start, end time.Time) []dateRange {
	have := make(map[string]priceRecord, len(cached))
	for _, r := range cached {
		have[r.Date] = r
	}

	var missing []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !domain.IsBusinessDay(d) {
			continue
		}
		rec, ok := have[d.Format(domain.DateLayout)]
		if !ok || c.provisional(rec) {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var ranges []dateRange
	cur := dateRange{start: missing[0], end: missing[0]}
	for _, d := range missing[1:] {
		if domain.DaysBetween(cur.end, d) <= 3 { // allow for weekends
			cur.end = d
			continue
		}
		ranges = append(ranges, cur)
		cur = dateRange{start: d, end: d}
	}
	return append(ranges, cur)
}

// provisional reports whether a cached close may still change: it was
// fetched before FreshDays had passed since its own date (typically the same
// day, while the session was still open).
func (c *Cache) provisional(rec priceRecord) bool {
	recDate, err := domain.ParseDate(rec.Date)
	if err != nil {
		return true
	}
	fetchedDay := domain.Day(time.UnixMilli(rec.FetchedAt))
	return domain.DaysBetween(recDate, fetchedDay) < c.FreshDays
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// Layout: <dir>/<TICKER>/<YYYY>.parquet
func (c *Cache) tickerDir(ticker string) string {
	return filepath.Join(c.dir, ticker)
}

func (c *Cache) yearPath(ticker string, year int) string {
	return filepath.Join(c.tickerDir(ticker), fmt.Sprintf("%d.parquet", year))
}

func (c *Cache) cachedYears(ticker string) ([]int, error) {
	entries, err := os.ReadDir(c.tickerDir(ticker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		var y int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// load reads and concatenates the year files covering [fromYear, toYear],
// sorted by date.
func (c *Cache) load(ticker string, fromYear, toYear int) ([]priceRecord, error) {
	var recs []priceRecord
	for year := fromYear; year <= toYear; year++ {
		path := c.yearPath(ticker, year)
		rows, err := parquet.ReadFile[priceRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			// An unreadable year file is treated like the ledger's corruption
			// path: preserve it under a backup name and carry on without it.
			backup := fmt.Sprintf("%s.corrupted.%s", path, c.Now().Format("20060102_150405"))
			if mvErr := os.Rename(path, backup); mvErr != nil {
				return nil, &domain.PersistenceCorruptedError{Path: path, Err: err}
			}
			c.log.Warn("cache file unreadable, moved aside", "path", path, "backup", backup, "err", err)
			continue
		}
		recs = append(recs, rows...)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Date < recs[j].Date })
	return recs, nil
}

// save writes records grouped by year, each file replaced atomically via a
// temp file and rename so concurrent readers never observe a torn write.
func (c *Cache) save(ticker string, recs []priceRecord) error {
	byYear := make(map[int][]priceRecord)
	for _, r := range recs {
		d, err := domain.ParseDate(r.Date)
		if err != nil {
			return fmt.Errorf("bad record date %q: %w", r.Date, err)
		}
		byYear[d.Year()] = append(byYear[d.Year()], r)
	}

	for year, rows := range byYear {
		path := c.yearPath(ticker, year)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		tmp := path + ".tmp"
		if err := parquet.WriteFile(tmp, rows); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("writing cache for %s/%d: %w", ticker, year, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return err
		}
	}
	return nil
}

func (c *Cache) toRecords(ticker string, points []domain.PricePoint) []priceRecord {
	now := c.Now().UnixMilli()
	recs := make([]priceRecord, 0, len(points))
	for _, p := range points {
		recs = append(recs, priceRecord{
			Ticker:    ticker,
			Date:      p.Date.Format(domain.DateLayout),
			Close:     p.Close.String(),
			FetchedAt: now,
			Schema:    schemaVersion,
		})
	}
	return recs
}

// mergeRecords deduplicates records by date, preferring incoming (freshly
// fetched) records over existing ones. Merging the same fetch twice yields
// the same result. Output is sorted by date.
func mergeRecords(existing, incoming []priceRecord) []priceRecord {
	seen := make(map[string]priceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]priceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}

func recordsToSeries(ticker string, recs []priceRecord) domain.PriceSeries {
	points := make([]domain.PricePoint, 0, len(recs))
	for _, r := range recs {
		d, err := domain.ParseDate(r.Date)
		if err != nil {
			continue
		}
		px, err := decimal.NewFromString(r.Close)
		if err != nil {
			continue
		}
		points = append(points, domain.PricePoint{Date: d, Close: px})
	}
	return domain.NewPriceSeries(ticker, points)
}
