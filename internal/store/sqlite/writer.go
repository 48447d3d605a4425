// Package sqlite journals alerts and the latest publication per symbol to a
// local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// JournalConfig configures the SQLite journal.
type JournalConfig struct {
	DBPath     string // e.g. "data/signals.db"
	BatchSize  int
	FlushDelay time.Duration
}

// Journal is a single-writer SQLite store with transaction batching.
type Journal struct {
	db         *sqlx.DB
	batchSize  int
	flushDelay time.Duration
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// alertRow is the alerts table layout.
type alertRow struct {
	ID         string          `db:"id"`
	Symbol     string          `db:"symbol"`
	Signal     string          `db:"signal"`
	Previous   string          `db:"previous"`
	Score      float64         `db:"score"`
	Price      float64         `db:"price"`
	StopLoss   sql.NullFloat64 `db:"stop_loss"`
	TakeProfit sql.NullFloat64 `db:"take_profit"`
	TS         int64           `db:"ts"`
	Data       string          `db:"data"`
}

// latestRow is the latest_signals table layout.
type latestRow struct {
	Symbol string  `db:"symbol"`
	Seq    int64   `db:"seq"`
	Signal string  `db:"signal"`
	Score  float64 `db:"score"`
	TS     int64   `db:"ts"`
	Data   string  `db:"data"`
}

// New opens the database in WAL mode and creates the schema.
func New(cfg JournalConfig, l *slog.Logger, m *metrics.Metrics) (*Journal, error) {
	db, err := sqlx.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}
	if l == nil {
		l = slog.Default()
	}
	j := &Journal{
		db:         db,
		batchSize:  cfg.BatchSize,
		flushDelay: cfg.FlushDelay,
		log:        l.With("component", "sqlite"),
		metrics:    m,
	}
	j.log.Info("opened database", "path", cfg.DBPath)
	return j, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT    PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			signal      TEXT    NOT NULL,
			previous    TEXT    NOT NULL,
			score       REAL    NOT NULL,
			price       REAL    NOT NULL,
			stop_loss   REAL,
			take_profit REAL,
			ts          INTEGER NOT NULL,
			data        TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS alerts_symbol_ts ON alerts (symbol, ts);

		CREATE TABLE IF NOT EXISTS latest_signals (
			symbol TEXT    PRIMARY KEY,
			seq    INTEGER NOT NULL,
			signal TEXT    NOT NULL,
			score  REAL    NOT NULL,
			ts     INTEGER NOT NULL,
			data   TEXT    NOT NULL
		);
	`)
	return err
}

// DB returns the underlying database for health checks.
func (j *Journal) DB() *sqlx.DB { return j.db }

// PingContext checks the database connection.
func (j *Journal) PingContext(ctx context.Context) error { return j.db.PingContext(ctx) }

func toAlertRow(ev model.AlertEvent) alertRow {
	r := alertRow{
		ID:       ev.ID,
		Symbol:   ev.Key(),
		Signal:   string(ev.Signal),
		Previous: string(ev.Previous),
		Score:    ev.Score,
		Price:    ev.Snapshot.Price,
		TS:       ev.EmittedAt.UnixMilli(),
		Data:     string(ev.JSON()),
	}
	if ev.Risk != nil {
		r.StopLoss = sql.NullFloat64{Float64: ev.Risk.StopLoss, Valid: true}
		r.TakeProfit = sql.NullFloat64{Float64: ev.Risk.TakeProfit, Valid: true}
	}
	return r
}

func toLatestRow(p model.Published) latestRow {
	return latestRow{
		Symbol: p.Snapshot.Symbol,
		Seq:    p.Seq,
		Signal: string(p.Signal),
		Score:  p.Score,
		TS:     p.Snapshot.TS.UnixMilli(),
		Data:   string(p.JSON()),
	}
}

const (
	insertAlert = `
		INSERT OR IGNORE INTO alerts (id, symbol, signal, previous, score, price, stop_loss, take_profit, ts, data)
		VALUES (:id, :symbol, :signal, :previous, :score, :price, :stop_loss, :take_profit, :ts, :data)`
	upsertLatest = `
		INSERT OR REPLACE INTO latest_signals (symbol, seq, signal, score, ts, data)
		VALUES (:symbol, :seq, :signal, :score, :ts, :data)`
)

// Record writes one alert immediately.
func (j *Journal) Record(ctx context.Context, ev model.AlertEvent) error {
	if _, err := j.db.NamedExecContext(ctx, insertAlert, toAlertRow(ev)); err != nil {
		return fmt.Errorf("sqlite insert alert %s: %w", ev.ID, err)
	}
	j.countWrites(1)
	return nil
}

// SaveLatest stores p as the symbol's latest publication.
func (j *Journal) SaveLatest(ctx context.Context, p model.Published) error {
	if _, err := j.db.NamedExecContext(ctx, upsertLatest, toLatestRow(p)); err != nil {
		return fmt.Errorf("sqlite upsert latest %s: %w", p.Snapshot.Symbol, err)
	}
	j.countWrites(1)
	return nil
}

// Run journals alerts and publications in batched transactions, flushing
// every batchSize writes or every flushDelay, whichever comes first.
// Publications are coalesced to the newest per symbol within a batch.
// It returns when ctx is cancelled or both channels are closed.
func (j *Journal) Run(ctx context.Context, pubs <-chan model.Published, alerts <-chan model.AlertEvent) {
	var batchAlerts []alertRow
	latest := make(map[string]latestRow)
	timer := time.NewTimer(j.flushDelay)
	defer timer.Stop()

	flush := func() {
		n := len(batchAlerts) + len(latest)
		if n == 0 {
			return
		}
		start := time.Now()
		// ctx may already be done on shutdown
		if err := j.insertBatch(context.Background(), batchAlerts, latest); err != nil {
			j.log.Error("batch insert failed", "err", err, "alerts", len(batchAlerts), "latest", len(latest))
		} else {
			j.countWrites(n)
			j.log.Debug("committed batch", "alerts", len(batchAlerts), "latest", len(latest), "took", time.Since(start))
		}
		batchAlerts = batchAlerts[:0]
		latest = make(map[string]latestRow)
	}
	full := func() bool { return len(batchAlerts)+len(latest) >= j.batchSize }

	for pubs != nil || alerts != nil {
		select {
		case <-ctx.Done():
			flush()
			return

		case p, ok := <-pubs:
			if !ok {
				pubs = nil
				continue
			}
			latest[p.Snapshot.Symbol] = toLatestRow(p)
			if full() {
				flush()
				timer.Reset(j.flushDelay)
			}

		case ev, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			batchAlerts = append(batchAlerts, toAlertRow(ev))
			if full() {
				flush()
				timer.Reset(j.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(j.flushDelay)
		}
	}
	flush()
}

func (j *Journal) insertBatch(ctx context.Context, alerts []alertRow, latest map[string]latestRow) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range alerts {
		if _, err := tx.NamedExecContext(ctx, insertAlert, r); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert alert %s: %w", r.ID, err)
		}
	}
	for _, r := range latest {
		if _, err := tx.NamedExecContext(ctx, upsertLatest, r); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert latest %s: %w", r.Symbol, err)
		}
	}
	return tx.Commit()
}

func (j *Journal) countWrites(n int) {
	if j.metrics != nil {
		j.metrics.JournalWrites.Add(float64(n))
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
