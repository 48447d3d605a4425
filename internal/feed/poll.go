package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/piquette/finance-go/quote"

	"signal-engine/internal/model"
)

// DefaultPollInterval is the cadence of a PollSource.
const DefaultPollInterval = time.Second

// Quoter returns the current quote for a symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (model.Tick, error)
}

// QuoterFunc adapts a function to Quoter.
type QuoterFunc func(ctx context.Context, symbol string) (model.Tick, error)

func (f QuoterFunc) Quote(ctx context.Context, symbol string) (model.Tick, error) {
	return f(ctx, symbol)
}

// YahooQuoter fetches regular-market quotes through finance-go.
//
// Symbols are the engine's own: a currency pair such as EURUSD is requested
// as Yahoo's EURUSD=X and the tick is reported as EURUSD. Anything else
// (AAPL, BTC-USD, ^GSPC, GBPUSD=X) is passed through unchanged.
type YahooQuoter struct{}

func (YahooQuoter) Quote(ctx context.Context, symbol string) (model.Tick, error) {
	if err := ctx.Err(); err != nil {
		return model.Tick{}, err
	}
	ticker := YahooSymbol(symbol)
	q, err := quote.Get(ticker)
	if err != nil {
		return model.Tick{}, err
	}
	if q == nil {
		return model.Tick{}, fmt.Errorf("no quote for %s", ticker)
	}
	t := model.Tick{
		Symbol: symbol,
		Price:  q.RegularMarketPrice,
		Volume: float64(q.RegularMarketVolume),
		TS:     time.Now().UTC(),
	}
	if q.RegularMarketTime > 0 {
		t.TS = time.Unix(int64(q.RegularMarketTime), 0).UTC()
	}
	// Day range only brackets the last price once the session has traded.
	if q.RegularMarketDayHigh >= t.Price && q.RegularMarketDayLow > 0 && q.RegularMarketDayLow <= t.Price {
		t.High, t.Low = q.RegularMarketDayHigh, q.RegularMarketDayLow
	}
	return t, nil
}

// currencies are the ISO 4217 codes recognised in a six-letter pair.
var currencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"AUD": true, "NZD": true, "CAD": true, "SEK": true, "NOK": true,
	"DKK": true, "PLN": true, "CZK": true, "HUF": true, "TRY": true,
	"ZAR": true, "MXN": true, "BRL": true, "CNY": true, "CNH": true,
	"HKD": true, "SGD": true, "INR": true, "KRW": true, "THB": true,
	"ILS": true, "RUB": true, "XAU": true, "XAG": true,
}

// YahooSymbol returns the Yahoo Finance ticker for symbol.
func YahooSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) == 6 && currencies[s[:3]] && currencies[s[3:]] {
		return s + "=X"
	}
	return symbol
}

// PollSource asks a Quoter for every symbol at a fixed interval. Ticks are
// reported under the symbols given to NewPollSource, whatever ticker the
// Quoter uses upstream (see YahooQuoter).
type PollSource struct {
	quoter   Quoter
	symbols  []string
	interval time.Duration
	log      *slog.Logger
}

// NewPollSource creates a poller. interval <= 0 uses DefaultPollInterval.
func NewPollSource(q Quoter, symbols []string, interval time.Duration, l *slog.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if l == nil {
		l = slog.Default()
	}
	return &PollSource{
		quoter:   q,
		symbols:  append([]string(nil), symbols...),
		interval: interval,
		log:      l.With("component", "feed", "source", "poll"),
	}
}

// Run polls until ctx is cancelled. A failed quote is reported and the
// symbol is skipped for that round.
func (p *PollSource) Run(ctx context.Context, out chan<- model.Tick, errs chan<- error) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("polling started", "symbols", p.symbols, "interval", p.interval)
	for {
		for _, sym := range p.symbols {
			t, err := p.quoter.Quote(ctx, sym)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				reportErr(errs, &model.FeedError{Symbol: sym, Reason: "quote", Err: err})
				continue
			}
			if t.Symbol == "" {
				t.Symbol = sym
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
