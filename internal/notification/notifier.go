// Package notification delivers signal alerts to external channels
// (log, Telegram, webhooks, Kafka).
package notification

import (
	"context"
	"errors"
	"log/slog"

	"signal-engine/internal/model"
)

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Notify delivers one alert. Returns error if delivery fails.
	Notify(ctx context.Context, ev model.AlertEvent) error
}

// LogNotifier writes alerts to the structured log (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses the default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "notify")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	attrs := []any{
		"alert_id", ev.ID,
		"symbol", ev.Key(),
		"signal", ev.Signal,
		"previous", ev.Previous,
		"score", ev.Score,
		"price", ev.Snapshot.Price,
	}
	if ev.Risk != nil {
		attrs = append(attrs, "stop_loss", ev.Risk.StopLoss, "take_profit", ev.Risk.TakeProfit)
	}
	n.log.InfoContext(ctx, ev.Subject(), attrs...)
	return nil
}

// Multi fans one alert out to several notifiers. Every notifier is tried;
// failures are joined.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, ev model.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, &model.NotificationError{Sink: n.Name(), AlertID: ev.ID, Err: err})
		}
	}
	return errors.Join(errs...)
}
