package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"buydip/internal/analysis"
	"buydip/internal/config"
	"buydip/internal/domain"
	"buydip/internal/engine"
	"buydip/internal/ledger"
	"buydip/internal/pricecache"
	"buydip/internal/pricesource"
	"buydip/internal/util"
)

const version = "0.1.0"

var hundred = decimal.NewFromInt(100)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: buydip <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  evaluate        Run the daily dip check and invest if triggered\n")
	fmt.Fprintf(os.Stderr, "  backtest        Replay the strategy over a historical period\n")
	fmt.Fprintf(os.Stderr, "  status          Show invested positions and current value\n")
	fmt.Fprintf(os.Stderr, "  cache-info      Describe the cached price data for the ticker\n")
	fmt.Fprintf(os.Stderr, "  validate-cache  Re-fetch and compare cached closes\n")
	fmt.Fprintf(os.Stderr, "  clear-cache     Delete cached price data for the ticker\n")
	fmt.Fprintf(os.Stderr, "  version         Print the buydip version\n")
	fmt.Fprintf(os.Stderr, "\nOptions common to all commands:\n")
	fmt.Fprintf(os.Stderr, "  -config <path>  Configuration file (default config/buydip.yaml,\n")
	fmt.Fprintf(os.Stderr, "                  or the BUYDIP_CONFIG environment variable)\n\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("buydip %s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "evaluate":
		err = runEvaluate(ctx, args)
	case "backtest":
		err = runBacktest(ctx, args)
	case "status":
		err = runStatus(ctx, args)
	case "cache-info":
		err = runCacheInfo(args)
	case "validate-cache":
		err = runValidateCache(ctx, args)
	case "clear-cache":
		err = runClearCache(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// newFlagSet returns a flag set pre-populated with the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	def := "config/buydip.yaml"
	if p := os.Getenv("BUYDIP_CONFIG"); p != "" {
		def = p
	}
	cfgPath := fs.String("config", def, "path to the configuration file")
	return fs, cfgPath
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func newCache(cfg *config.Config) *pricecache.Cache {
	source := pricesource.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	cache := pricecache.New(cfg.Storage.DataDir, source)
	cache.FreshDays = cfg.Strategy.CacheFreshDays
	return cache
}

func openLedger(cfg *config.Config) (*ledger.SQLiteLedger, error) {
	led, err := ledger.OpenSQLite(cfg.Storage.LedgerPath, cfg.Strategy.Ticker,
		cfg.Strategy.MinDaysBetweenInvestments)
	if err != nil {
		return nil, err
	}
	if led.Recovered() {
		fmt.Fprintf(os.Stderr, "warning: investment ledger was corrupted; the damaged file was backed up and a fresh ledger started\n")
	}
	return led, nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs, cfgPath := newFlagSet("evaluate")
	dateStr := fs.String("date", "", "evaluation date as YYYY-MM-DD (default today)")
	todayClose := fs.Bool("today-close", false, "assess today's own close against the trigger instead of the prior close")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	evalDate := domain.Day(time.Now())
	if *dateStr != "" {
		evalDate, err = domain.ParseDate(*dateStr)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
	}

	led, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer led.Close()

	eng := engine.New(cfg.Strategy, newCache(cfg), led, logger)
	res, err := eng.Evaluate(ctx, evalDate, *todayClose)
	if err != nil {
		var notYet *domain.PriceNotYetAvailableError
		if errors.As(err, &notYet) {
			fmt.Printf("%s %s: no close published yet, try again after market close\n",
				cfg.Strategy.Ticker, evalDate.Format(domain.DateLayout))
			return nil
		}
		return err
	}

	printEvaluation(res)
	return nil
}

func printEvaluation(res domain.EvaluationResult) {
	fmt.Printf("%s  %s\n", res.Ticker, res.EvaluationDate.Format(domain.DateLayout))
	fmt.Printf("  reference close   %s (%s)\n", res.ReferencePrice.StringFixed(2),
		res.ReferenceDate.Format(domain.DateLayout))
	fmt.Printf("  rolling maximum   %s", res.RollingMaximum.StringFixed(2))
	if res.PartialWindow {
		fmt.Printf("  (partial window)")
	}
	fmt.Println()
	fmt.Printf("  trigger price     %s\n", res.TriggerPrice.StringFixed(2))

	switch {
	case !res.TriggerMet:
		fmt.Println("  no dip: reference close is above the trigger price")
	case !res.SpacingSatisfied:
		fmt.Println("  dip detected, but a recent investment blocks a new one")
	case res.Invested:
		inv := res.Investment
		fmt.Printf("  invested %s at %s for %s shares (id %s)\n",
			inv.Amount.StringFixed(2), inv.Price.StringFixed(2), inv.Shares.String(), inv.ID)
	}
}

func runBacktest(ctx context.Context, args []string) error {
	fs, cfgPath := newFlagSet("backtest")
	startStr := fs.String("start", "", "backtest start date as YYYY-MM-DD (required)")
	endStr := fs.String("end", "", "backtest end date as YYYY-MM-DD (required)")
	withCAGR := fs.Bool("cagr", false, "also compare annualized growth against buy-and-hold")
	fs.Parse(args)

	if *startStr == "" || *endStr == "" {
		fs.Usage()
		return errors.New("-start and -end are required")
	}
	start, err := domain.ParseDate(*startStr)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	end, err := domain.ParseDate(*endStr)
	if err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	cache := newCache(cfg)
	eng := engine.New(cfg.Strategy, cache,
		ledger.NewMemoryLedger(cfg.Strategy.MinDaysBetweenInvestments), logger)

	res, err := eng.Backtest(ctx, start, end)
	if err != nil {
		return err
	}
	printBacktest(res)

	if *withCAGR {
		series, _, err := cache.GetRange(ctx, cfg.Strategy.Ticker, start, end)
		if err != nil {
			return err
		}
		report, err := analysis.Compare(res.Investments, series, start, end)
		if err != nil {
			return err
		}
		printReport(report)
	}
	return nil
}

func printBacktest(res domain.BacktestResult) {
	fmt.Printf("%s  %s .. %s\n", res.Ticker,
		res.Start.Format(domain.DateLayout), res.End.Format(domain.DateLayout))
	fmt.Printf("  trading days evaluated  %d\n", res.Evaluations)
	fmt.Printf("  dip triggers met        %d\n", res.TriggersMet)
	fmt.Printf("  investments executed    %d\n", res.InvestmentsExecuted)
	fmt.Printf("  blocked by spacing      %d\n", res.InvestmentsBlocked)

	m := res.FinalMetrics
	if m.InvestmentCount > 0 {
		fmt.Printf("  total invested          %s\n", m.TotalInvested.StringFixed(2))
		fmt.Printf("  final value             %s\n", m.CurrentValue.StringFixed(2))
		fmt.Printf("  gain/loss               %s (%s%%)\n",
			m.TotalReturn.StringFixed(2), m.PercentageReturn.Mul(hundred).StringFixed(2))
	}
	for _, inv := range res.Investments {
		fmt.Printf("    %s  %s @ %s  %s shares\n", inv.Date.Format(domain.DateLayout),
			inv.Amount.StringFixed(2), inv.Price.StringFixed(2), inv.Shares.String())
	}
}

func printReport(r analysis.Report) {
	fmt.Printf("  strategy CAGR           %.2f%% (%.2f%% from first buy)\n",
		r.StrategyCAGR*100, r.ActiveCAGR*100)
	fmt.Printf("  buy-and-hold CAGR       %.2f%%\n", r.BuyHoldCAGR*100)
	fmt.Printf("  outperformance          %+.2f%%/yr\n", r.Outperformance*100)
	fmt.Printf("  opportunity cost        %s\n", r.OpportunityCost.StringFixed(2))
}

func runStatus(ctx context.Context, args []string) error {
	fs, cfgPath := newFlagSet("status")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	led, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer led.Close()

	eng := engine.New(cfg.Strategy, newCache(cfg), led, logger)
	metrics, last, err := eng.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s  last close %s (%s)\n", cfg.Strategy.Ticker,
		last.Close.StringFixed(2), last.Date.Format(domain.DateLayout))
	if metrics.InvestmentCount == 0 {
		fmt.Println("  no investments recorded")
		return nil
	}
	fmt.Printf("  investments     %d\n", metrics.InvestmentCount)
	fmt.Printf("  total invested  %s\n", metrics.TotalInvested.StringFixed(2))
	fmt.Printf("  total shares    %s\n", metrics.TotalShares.String())
	fmt.Printf("  current value   %s\n", metrics.CurrentValue.StringFixed(2))
	fmt.Printf("  gain/loss       %s (%s%%)\n",
		metrics.TotalReturn.StringFixed(2), metrics.PercentageReturn.Mul(hundred).StringFixed(2))
	return nil
}

func runCacheInfo(args []string) error {
	fs, cfgPath := newFlagSet("cache-info")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	info, err := newCache(cfg).CacheInfo(cfg.Strategy.Ticker)
	if err != nil {
		return err
	}
	if !info.Cached {
		fmt.Printf("%s: no cached price data\n", info.Ticker)
		return nil
	}
	fmt.Printf("%s: %d closes cached, %s .. %s\n", info.Ticker, info.Records,
		info.Start.Format(domain.DateLayout), info.End.Format(domain.DateLayout))
	return nil
}

func runValidateCache(ctx context.Context, args []string) error {
	fs, cfgPath := newFlagSet("validate-cache")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	mismatches, err := newCache(cfg).Validate(ctx, cfg.Strategy.Ticker)
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		fmt.Printf("%s: cached closes match the provider\n", cfg.Strategy.Ticker)
		return nil
	}
	fmt.Printf("%s: %d mismatched closes\n", cfg.Strategy.Ticker, len(mismatches))
	for _, m := range mismatches {
		fmt.Printf("  %s  cached %s  provider %s\n", m.Date.Format(domain.DateLayout),
			m.Cached.StringFixed(2), m.Fetched.StringFixed(2))
	}
	return errors.New("cache validation failed")
}

func runClearCache(args []string) error {
	fs, cfgPath := newFlagSet("clear-cache")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	if err := newCache(cfg).Invalidate(cfg.Strategy.Ticker); err != nil {
		return err
	}
	fmt.Printf("%s: cached price data removed\n", cfg.Strategy.Ticker)
	return nil
}
