package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"buydip/internal/domain"
)

// ledgerSchemaVersion marks the on-disk layout so older files remain readable
// as columns are added.
const ledgerSchemaVersion = 1

// Compile-time interface check.
var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger persists investments in a SQLite database. A Record call
// commits its transaction before returning, so a crash after success can
// never lose the investment.
type SQLiteLedger struct {
	db        *sql.DB
	path      string
	ticker    string
	minDays   int
	recovered bool
	log       *slog.Logger
}

// OpenSQLite opens (or creates) the ledger database at path for one ticker.
// If the file exists but is unreadable, it is preserved under a backup name,
// a fresh empty ledger is initialised in its place, and Recovered reports
// true so the caller can surface a warning.
func OpenSQLite(path, ticker string, minDays int) (*SQLiteLedger, error) {
	l := &SQLiteLedger{
		path:    path,
		ticker:  ticker,
		minDays: minDays,
		log:     slog.Default().With("component", "ledger"),
	}

	db, err := open(path)
	if err != nil {
		backup := fmt.Sprintf("%s.corrupted.%s", path, time.Now().Format("20060102_150405"))
		if mvErr := os.Rename(path, backup); mvErr != nil {
			return nil, &domain.PersistenceCorruptedError{Path: path, Err: err}
		}
		l.log.Warn("ledger unreadable, reinitialising empty", "path", path, "backup", backup, "err", err)

		db, err = open(path)
		if err != nil {
			return nil, &domain.PersistenceCorruptedError{Path: path, Err: err}
		}
		l.recovered = true
	}

	l.db = db
	return l, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL keeps concurrent invocations from tearing each other's writes;
	// synchronous=FULL makes a committed Record durable across power loss.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS investments (
			id     TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			date   TEXT NOT NULL,
			price  TEXT NOT NULL,
			amount TEXT NOT NULL,
			shares TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_investments_ticker_date ON investments(ticker, date)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, ledgerSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// Recovered reports whether the ledger was reinitialised after finding a
// corrupted file at open time.
func (l *SQLiteLedger) Recovered() bool { return l.recovered }

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error { return l.db.Close() }

// Record appends the investment inside a committed transaction. The spacing
// invariant is re-checked here so it holds for every record ever written,
// regardless of the caller.
func (l *SQLiteLedger) Record(ctx context.Context, inv domain.Investment) error {
	invs, err := l.Investments()
	if err != nil {
		return err
	}
	if anyRecent(invs, inv.Date, l.minDays) {
		return fmt.Errorf("%s on %s: %w", inv.Ticker, inv.Date.Format(domain.DateLayout), ErrSpacingViolation)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO investments (id, ticker, date, price, amount, shares) VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Ticker, inv.Date.Format(domain.DateLayout),
		inv.Price.String(), inv.Amount.String(), inv.Shares.String(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert investment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit investment: %w", err)
	}

	l.log.Info("recorded investment",
		"ticker", inv.Ticker,
		"date", inv.Date.Format(domain.DateLayout),
		"price", inv.Price,
		"amount", inv.Amount,
		"shares", inv.Shares,
	)
	return nil
}

// HasRecentInvestment reports whether an investment falls strictly within
// minDays before asOf.
func (l *SQLiteLedger) HasRecentInvestment(asOf time.Time, minDays int) bool {
	invs, err := l.Investments()
	if err != nil {
		l.log.Error("reading ledger for spacing check", "err", err)
		// Failing closed here would silently double-invest; failing open
		// blocks the buy, which is the recoverable direction.
		return true
	}
	return anyRecent(invs, asOf, minDays)
}

// Investments returns all records for the ledger's ticker ordered by date.
func (l *SQLiteLedger) Investments() ([]domain.Investment, error) {
	rows, err := l.db.Query(
		`SELECT id, ticker, date, price, amount, shares FROM investments WHERE ticker = ? ORDER BY date`,
		l.ticker,
	)
	if err != nil {
		return nil, fmt.Errorf("query investments: %w", err)
	}
	defer rows.Close()

	var out []domain.Investment
	for rows.Next() {
		var (
			inv                          domain.Investment
			dateStr, price, amt, shares string
		)
		if err := rows.Scan(&inv.ID, &inv.Ticker, &dateStr, &price, &amt, &shares); err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		if inv.Date, err = domain.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("investment %s has bad date %q: %w", inv.ID, dateStr, err)
		}
		if inv.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("investment %s has bad price %q: %w", inv.ID, price, err)
		}
		if inv.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("investment %s has bad amount %q: %w", inv.ID, amt, err)
		}
		if inv.Shares, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("investment %s has bad shares %q: %w", inv.ID, shares, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Metrics aggregates the persisted ledger against a current price.
func (l *SQLiteLedger) Metrics(currentPrice decimal.Decimal) (domain.PortfolioMetrics, error) {
	invs, err := l.Investments()
	if err != nil {
		return domain.PortfolioMetrics{}, err
	}
	return domain.ComputeMetrics(invs, currentPrice), nil
}
