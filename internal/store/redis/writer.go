package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
)

const (
	// ~3h of 1s publications + buffer
	defaultSnapMaxLen  = 12000
	defaultAlertMaxLen = 5000
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	SnapMaxLen  int64
	AlertMaxLen int64
	LatestTTL   time.Duration
}

func (c *WriterConfig) defaults() {
	if c.SnapMaxLen <= 0 {
		c.SnapMaxLen = defaultSnapMaxLen
	}
	if c.AlertMaxLen <= 0 {
		c.AlertMaxLen = defaultAlertMaxLen
	}
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
}

// Writer writes publications and alerts to Redis.
type Writer struct {
	client  *goredis.Client
	cfg     WriterConfig
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig, l *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := NewWithClient(client, cfg, l, m)
	w.log.Info("redis connected", "addr", cfg.Addr)
	return w, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg WriterConfig, l *slog.Logger, m *metrics.Metrics) *Writer {
	cfg.defaults()
	if l == nil {
		l = slog.Default()
	}
	return &Writer{client: client, cfg: cfg, log: l.With("component", "redis"), metrics: m}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// WritePublished stores p as the symbol's latest value, appends it to the
// symbol's stream and publishes it, in one pipeline.
func (w *Writer) WritePublished(ctx context.Context, p model.Published) error {
	sym := p.Snapshot.Symbol
	data := string(p.JSON())
	start := time.Now()

	pipe := w.client.Pipeline()
	pipe.Set(ctx, latestKey(sym), data, w.cfg.LatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: snapStream(sym),
		MaxLen: w.cfg.SnapMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":  p.Seq,
			"data": data,
		},
	})
	pipe.Publish(ctx, snapChannel(sym), data)

	_, err := pipe.Exec(ctx)
	if w.metrics != nil {
		w.metrics.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("redis publish %s seq %d: %w", sym, p.Seq, err)
	}
	return nil
}

// WriteAlert appends ev to the global and per-symbol alert streams and
// publishes it.
func (w *Writer) WriteAlert(ctx context.Context, ev model.AlertEvent) error {
	sym := ev.Key()
	data := string(ev.JSON())
	values := map[string]interface{}{
		"id":     ev.ID,
		"symbol": sym,
		"signal": string(ev.Signal),
		"data":   data,
	}

	pipe := w.client.Pipeline()
	for _, stream := range []string{alertsStream, symbolAlertStream(sym)} {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			MaxLen: w.cfg.AlertMaxLen,
			Approx: true,
			Values: values,
		})
	}
	pipe.Publish(ctx, alertsChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis alert %s: %w", ev.ID, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
