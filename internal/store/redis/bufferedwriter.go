package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"signal-engine/internal/model"
)

const defaultMaxPendingAlerts = 10000

// BufferedWriter routes writes through a circuit breaker. While the breaker
// is open, alerts are queued in order and only the newest publication per
// symbol is kept; both are flushed once a write succeeds again.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	log    *slog.Logger

	mu        sync.Mutex
	latest    map[string]model.Published
	alerts    []model.AlertEvent
	maxAlerts int
	flushing  bool

	// OnFlush is called after a flush with the number of writes replayed.
	OnFlush func(count int)
}

// NewBufferedWriter wraps w. maxAlerts bounds the alert queue; the oldest
// alert is dropped when it is full.
func NewBufferedWriter(w *Writer, cb *CircuitBreaker, maxAlerts int) *BufferedWriter {
	if maxAlerts <= 0 {
		maxAlerts = defaultMaxPendingAlerts
	}
	bw := &BufferedWriter{
		writer:    w,
		cb:        cb,
		log:       w.log,
		latest:    make(map[string]model.Published),
		maxAlerts: maxAlerts,
	}

	prev := cb.OnStateChange
	m := w.metrics
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if m != nil {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
		bw.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}
	return bw
}

// WritePublished writes p, or buffers it when the breaker is open.
func (bw *BufferedWriter) WritePublished(ctx context.Context, p model.Published) error {
	err := bw.cb.Execute(func() error { return bw.writer.WritePublished(ctx, p) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.mu.Lock()
		bw.latest[p.Snapshot.Symbol] = p
		bw.mu.Unlock()
		return nil
	}
	if err == nil {
		bw.flush(ctx)
	}
	return err
}

// WriteAlert writes ev. When the breaker is open or the write fails, the
// alert is queued for the next flush.
func (bw *BufferedWriter) WriteAlert(ctx context.Context, ev model.AlertEvent) error {
	err := bw.cb.Execute(func() error { return bw.writer.WriteAlert(ctx, ev) })
	switch {
	case err == nil:
		bw.flush(ctx)
		return nil
	case errors.Is(err, ErrCircuitOpen):
		bw.queueAlert(ev)
		return nil
	default:
		bw.queueAlert(ev)
		return err
	}
}

func (bw *BufferedWriter) queueAlert(ev model.AlertEvent) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if len(bw.alerts) >= bw.maxAlerts {
		bw.alerts = bw.alerts[1:]
	}
	bw.alerts = append(bw.alerts, ev)
}

// flush replays buffered writes after a successful write. A failed replay
// re-queues what is left.
func (bw *BufferedWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	if bw.flushing || (len(bw.alerts) == 0 && len(bw.latest) == 0) {
		bw.mu.Unlock()
		return
	}
	bw.flushing = true
	alerts := bw.alerts
	latest := bw.latest
	bw.alerts = nil
	bw.latest = make(map[string]model.Published)
	bw.mu.Unlock()

	defer func() {
		bw.mu.Lock()
		bw.flushing = false
		bw.mu.Unlock()
	}()

	flushed := 0
	for i, ev := range alerts {
		if err := bw.writer.WriteAlert(ctx, ev); err != nil {
			bw.log.Warn("redis flush interrupted", "err", err, "pending", len(alerts)-i)
			bw.requeue(alerts[i:], latest)
			return
		}
		flushed++
	}
	for sym, p := range latest {
		if err := bw.writer.WritePublished(ctx, p); err != nil {
			bw.log.Warn("redis flush interrupted", "err", err, "symbol", sym)
			bw.requeue(nil, latest)
			return
		}
		delete(latest, sym)
		flushed++
	}

	bw.log.Info("redis flushed buffered writes", "count", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

func (bw *BufferedWriter) requeue(alerts []model.AlertEvent, latest map[string]model.Published) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.alerts = append(append([]model.AlertEvent(nil), alerts...), bw.alerts...)
	if len(bw.alerts) > bw.maxAlerts {
		bw.alerts = bw.alerts[len(bw.alerts)-bw.maxAlerts:]
	}
	for sym, p := range latest {
		if cur, ok := bw.latest[sym]; !ok || cur.Seq < p.Seq {
			bw.latest[sym] = p
		}
	}
}

// Pending returns the number of buffered alerts and publications.
func (bw *BufferedWriter) Pending() (alerts, published int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.alerts), len(bw.latest)
}

// Run writes publications and alerts until ctx is done or both channels
// close. Write errors are logged and counted by the breaker.
func (bw *BufferedWriter) Run(ctx context.Context, pubs <-chan model.Published, alerts <-chan model.AlertEvent) {
	for pubs != nil || alerts != nil {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-pubs:
			if !ok {
				pubs = nil
				continue
			}
			if err := bw.WritePublished(ctx, p); err != nil {
				bw.log.Warn("redis write failed", "symbol", p.Snapshot.Symbol, "seq", p.Seq, "err", err)
			}
		case ev, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			if err := bw.WriteAlert(ctx, ev); err != nil {
				bw.log.Warn("redis alert write failed", "alert_id", ev.ID, "err", err)
			}
		}
	}
}

// Underlying returns the wrapped writer.
func (bw *BufferedWriter) Underlying() *Writer { return bw.writer }
