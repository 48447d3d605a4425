package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"signal-engine/internal/model"
)

// maxReplayGap caps the sleep between two replayed ticks.
const maxReplayGap = 5 * time.Second

// CSVConfig configures a CSV replay.
type CSVConfig struct {
	// Path of the file. The first row is a header naming the columns:
	// ts (or time/timestamp), symbol, price (or close), volume, and
	// optionally high and low.
	Path string

	// Symbol is used when the file has no symbol column.
	Symbol string

	// Speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64
}

// CSVSource replays historical ticks from a CSV file.
type CSVSource struct {
	cfg CSVConfig
	log *slog.Logger
}

// NewCSVSource creates a CSV replay source.
func NewCSVSource(cfg CSVConfig, l *slog.Logger) *CSVSource {
	if l == nil {
		l = slog.Default()
	}
	return &CSVSource{cfg: cfg, log: l.With("component", "feed", "source", "csv")}
}

// Run replays the file into out and returns nil once it is exhausted.
// Rows that cannot be parsed are reported on errs and skipped.
func (s *CSVSource) Run(ctx context.Context, out chan<- model.Tick, errs chan<- error) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return &model.FeedError{Symbol: s.cfg.Symbol, Reason: "open replay file", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return &model.FeedError{Symbol: s.cfg.Symbol, Reason: "read header", Err: err}
	}
	cols, err := parseHeader(header, s.cfg.Symbol != "")
	if err != nil {
		return &model.FeedError{Symbol: s.cfg.Symbol, Reason: "bad header", Err: err}
	}

	s.log.Info("replay started", "path", s.cfg.Path, "speed", s.cfg.Speed)

	var prevTS time.Time
	emitted, line := 0, 1
	for {
		rec, err := r.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			reportErr(errs, &model.FeedError{Reason: fmt.Sprintf("line %d", line), Err: err})
			continue
		}
		tick, err := cols.tick(rec, s.cfg.Symbol)
		if err != nil {
			reportErr(errs, &model.FeedError{Symbol: tick.Symbol, Reason: fmt.Sprintf("line %d", line), Err: err})
			continue
		}

		// Simulate time gaps between ticks
		if s.cfg.Speed > 0 && !prevTS.IsZero() {
			if gap := tick.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / s.cfg.Speed)
				if scaled > maxReplayGap {
					scaled = maxReplayGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = tick.TS

		select {
		case out <- tick:
			emitted++
		case <-ctx.Done():
			s.log.Info("replay cancelled", "emitted", emitted)
			return ctx.Err()
		}
	}

	s.log.Info("replay completed", "emitted", emitted)
	return nil
}

type csvColumns struct {
	ts, symbol, price, volume, high, low int
}

func parseHeader(header []string, haveDefaultSymbol bool) (csvColumns, error) {
	c := csvColumns{ts: -1, symbol: -1, price: -1, volume: -1, high: -1, low: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "ts", "time", "timestamp":
			c.ts = i
		case "symbol":
			c.symbol = i
		case "price", "close":
			c.price = i
		case "volume", "qty":
			c.volume = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		}
	}
	switch {
	case c.price < 0:
		return c, errors.New("missing price column")
	case c.symbol < 0 && !haveDefaultSymbol:
		return c, errors.New("missing symbol column and no default symbol")
	}
	return c, nil
}

func (c csvColumns) tick(rec []string, defaultSymbol string) (model.Tick, error) {
	t := model.Tick{Symbol: strings.ToUpper(defaultSymbol)}
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	if v := field(c.symbol); v != "" {
		t.Symbol = strings.ToUpper(v)
	}
	var err error
	if t.Price, err = strconv.ParseFloat(field(c.price), 64); err != nil {
		return t, fmt.Errorf("price: %w", err)
	}
	for _, f := range []struct {
		idx int
		dst *float64
		nm  string
	}{{c.volume, &t.Volume, "volume"}, {c.high, &t.High, "high"}, {c.low, &t.Low, "low"}} {
		if v := field(f.idx); v != "" {
			if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
				return t, fmt.Errorf("%s: %w", f.nm, err)
			}
		}
	}
	if v := field(c.ts); v != "" {
		if t.TS, err = parseTS(v); err != nil {
			return t, err
		}
	}
	return t, nil
}

// parseTS accepts RFC 3339 or a Unix timestamp in seconds or milliseconds.
func parseTS(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts.UTC(), nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: not RFC 3339 or unix", v)
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
