// cmd/backtest replays a CSV tick file through the signal pipeline to check
// indicator parameters and thresholds without a live feed. Indicator,
// threshold and risk settings come from the same env vars and STRATEGY_FILE
// as the live engine.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/eurusd.csv --symbol=EURUSD --speed=0
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"signal-engine/config"
	"signal-engine/internal/feed"
	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/model"
	"signal-engine/internal/pipeline"
	"signal-engine/internal/risk"
	sqlitestore "signal-engine/internal/store/sqlite"
	"signal-engine/internal/strategy"
)

type options struct {
	csvPath string
	symbol  string
	speed   float64
	journal string
	verbose bool
}

// result is what a replay produced.
type result struct {
	Ticks      int
	FeedErrors int
	Alerts     []model.AlertEvent
	Final      map[string]model.Published
}

func main() {
	var opts options
	flag.StringVar(&opts.csvPath, "csv", "", "CSV file to replay (required)")
	flag.StringVar(&opts.symbol, "symbol", "", "Symbol for files without a symbol column")
	flag.Float64Var(&opts.speed, "speed", 0, "Playback speed multiplier (0=max, 1=realtime)")
	flag.StringVar(&opts.journal, "journal", "", "Optional SQLite path to record alerts")
	flag.BoolVar(&opts.verbose, "v", false, "Log pipeline activity")
	flag.Parse()

	if opts.csvPath == "" {
		fmt.Fprintln(os.Stderr, "backtest: --csv is required")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := logger.New(logger.Options{Service: "backtest", Level: level, Format: "text", Output: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}
	if opts.symbol == "" && len(cfg.Symbols) > 0 {
		opts.symbol = cfg.Symbols[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var journal *sqlitestore.Journal
	if opts.journal != "" {
		journal, err = sqlitestore.New(sqlitestore.JournalConfig{DBPath: opts.journal}, log, nil)
		if err != nil {
			log.Error("journal", "error", err)
			os.Exit(1)
		}
		defer journal.Close()
	}

	src := feed.NewCSVSource(feed.CSVConfig{Path: opts.csvPath, Symbol: opts.symbol, Speed: opts.speed}, log)
	res, err := replay(ctx, cfg, src, journal, log)
	if err != nil {
		log.Error("replay failed", "error", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, res)
}

// replay runs src through a Manager built from cfg and collects the alerts
// and the final publication per symbol. Alerts are recorded in journal
// when it is non-nil.
func replay(ctx context.Context, cfg *config.Config, src feed.Source, journal *sqlitestore.Journal, log *slog.Logger) (*result, error) {
	if log == nil {
		log = slog.Default()
	}
	engine, err := indicator.NewEngine(cfg.IndicatorParams())
	if err != nil {
		return nil, fmt.Errorf("indicator engine: %w", err)
	}
	agg, err := strategy.NewAggregator(cfg.Thresholds())
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	calc, err := risk.NewCalculator(cfg.RiskConfig())
	if err != nil {
		return nil, fmt.Errorf("risk calculator: %w", err)
	}

	m, err := pipeline.NewManager(ctx, pipeline.Config{
		Engine:          engine,
		Aggregator:      agg,
		Risk:            calc,
		HistoryCapacity: cfg.HistoryCapacity,
		Logger:          log,
	}, pipeline.WithAutoTrack(), pipeline.WithQueueSize(cfg.QueueSize), pipeline.WithSubscriberBuffer(cfg.QueueSize))
	if err != nil {
		return nil, err
	}

	res := &result{Final: make(map[string]model.Published)}
	var wg sync.WaitGroup

	pubs := m.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range pubs {
			if cur, ok := res.Final[p.Snapshot.Symbol]; !ok || p.Seq > cur.Seq {
				res.Final[p.Snapshot.Symbol] = p
			}
		}
	}()

	done := make(chan struct{})
	record := func(ev model.AlertEvent) {
		res.Alerts = append(res.Alerts, ev)
		if journal == nil {
			return
		}
		if err := journal.Record(context.Background(), ev); err != nil {
			log.Warn("journal record failed", "id", ev.ID, "error", err)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-m.Alerts():
				record(ev)
			case <-done:
				for {
					select {
					case ev := <-m.Alerts():
						record(ev)
					default:
						return
					}
				}
			}
		}
	}()

	ticks := make(chan model.Tick, cfg.QueueSize)
	tapped := make(chan model.Tick, cfg.QueueSize)
	errs := make(chan error, 64)
	var (
		feedWG  sync.WaitGroup
		feedErr error
	)
	feedWG.Add(2)
	go func() {
		defer feedWG.Done()
		defer close(ticks)
		feedErr = src.Run(ctx, ticks, errs)
	}()
	go func() {
		defer feedWG.Done()
		defer close(tapped)
		for t := range ticks {
			res.Ticks++
			select {
			case tapped <- t:
			case <-ctx.Done():
				for range ticks {
				}
				return
			}
		}
	}()
	errsDone := make(chan struct{})
	go func() {
		defer close(errsDone)
		for err := range errs {
			res.FeedErrors++
			log.Debug("feed error", "error", err)
		}
	}()

	runErr := m.Run(ctx, tapped)
	feedWG.Wait()
	close(errs)
	<-errsDone
	close(done)
	m.Close()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return res, runErr
	}
	if feedErr != nil && ctx.Err() == nil {
		return res, fmt.Errorf("feed: %w", feedErr)
	}
	return res, nil
}

func printSummary(w io.Writer, res *result) {
	for _, ev := range res.Alerts {
		line := fmt.Sprintf("  [%s] %-8s %-11s <- %-11s price=%.5f",
			ev.EmittedAt.Format("2006-01-02 15:04:05"), ev.Snapshot.Symbol, ev.Signal, ev.Previous, ev.Snapshot.Price)
		if ev.Risk != nil {
			line += fmt.Sprintf(" sl=%.5f tp=%.5f", ev.Risk.StopLoss, ev.Risk.TakeProfit)
		}
		fmt.Fprintln(w, line)
	}

	bySignal := make(map[model.Signal]int)
	for _, ev := range res.Alerts {
		bySignal[ev.Signal]++
	}
	symbols := make([]string, 0, len(res.Final))
	for sym := range res.Final {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "BACKTEST COMPLETE")
	fmt.Fprintf(w, "  ticks:       %d\n", res.Ticks)
	fmt.Fprintf(w, "  feed errors: %d\n", res.FeedErrors)
	fmt.Fprintf(w, "  alerts:      %d\n", len(res.Alerts))
	for _, sig := range []model.Signal{model.StrongBuy, model.Buy, model.Neutral, model.Sell, model.StrongSell} {
		if n := bySignal[sig]; n > 0 {
			fmt.Fprintf(w, "    %-11s %d\n", sig, n)
		}
	}
	for _, sym := range symbols {
		p := res.Final[sym]
		fmt.Fprintf(w, "  %-8s final=%-11s seq=%d rsi=%.2f adx=%.2f\n", sym, p.Signal, p.Seq, p.Snapshot.RSI, p.Snapshot.ADX)
	}
}
