package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
)

// DefaultTimeout bounds a single sink delivery.
const DefaultTimeout = 5 * time.Second

// Dispatcher consumes alerts and hands each one to every sink on its own
// goroutine. Deliveries are never retried; failures are logged as
// NotificationError and counted.
type Dispatcher struct {
	sinks   []Notifier
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	// OnError, when set, receives every failed delivery.
	OnError func(*model.NotificationError)
}

// NewDispatcher creates a dispatcher for sinks. timeout <= 0 uses
// DefaultTimeout.
func NewDispatcher(sinks []Notifier, timeout time.Duration, l *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		log:     l.With("component", "dispatcher"),
		metrics: m,
	}
}

// Sinks lists the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Run dispatches alerts until ctx is cancelled or alerts closes, then waits
// for in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context, alerts <-chan model.AlertEvent) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-alerts:
			if !ok {
				return
			}
			d.Dispatch(ev)
		}
	}
}

// Dispatch starts delivery of ev to every sink and returns immediately.
func (d *Dispatcher) Dispatch(ev model.AlertEvent) {
	for _, s := range d.sinks {
		d.wg.Add(1)
		go d.deliver(s, ev)
	}
}

// Wait blocks until all started deliveries have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliver(s Notifier, ev model.AlertEvent) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := s.Notify(ctx, ev)
	d.metrics.ObserveNotification(s.Name(), err)
	if err == nil {
		d.log.Debug("alert delivered", "sink", s.Name(), "alert_id", ev.ID)
		return
	}

	ne := &model.NotificationError{Sink: s.Name(), AlertID: ev.ID, Err: err}
	d.log.Warn("alert delivery failed", "sink", s.Name(), "alert_id", ev.ID, "symbol", ev.Key(), "error", err)
	if d.OnError != nil {
		d.OnError(ne)
	}
}
