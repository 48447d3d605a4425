package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/internal/model"
)

// Reader reads back what Writer stores.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a Reader on an existing client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// Latest returns the newest publication for symbol. It returns nil and no
// error when the key is missing or has expired.
func (r *Reader) Latest(ctx context.Context, symbol string) (*model.Published, error) {
	raw, err := r.client.Get(ctx, latestKey(symbol)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest %s: %w", symbol, err)
	}
	var p model.Published
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode latest %s: %w", symbol, err)
	}
	return &p, nil
}

// History returns up to limit publications for symbol, newest first.
func (r *Reader) History(ctx context.Context, symbol string, limit int64) ([]model.Published, error) {
	msgs, err := r.client.XRevRangeN(ctx, snapStream(symbol), "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", snapStream(symbol), err)
	}
	out := make([]model.Published, 0, len(msgs))
	for _, msg := range msgs {
		var p model.Published
		if decodeData(msg, &p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Recent returns up to limit alerts, newest first. An empty symbol reads
// alerts of every symbol.
func (r *Reader) Recent(ctx context.Context, symbol string, limit int) ([]model.AlertEvent, error) {
	stream := alertsStream
	if symbol != "" {
		stream = symbolAlertStream(symbol)
	}
	msgs, err := r.client.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}
	out := make([]model.AlertEvent, 0, len(msgs))
	for _, msg := range msgs {
		var ev model.AlertEvent
		if decodeData(msg, &ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// SubscribeAlerts forwards alerts published on the alert channel to out
// until ctx is done.
func (r *Reader) SubscribeAlerts(ctx context.Context, out chan<- model.AlertEvent) error {
	sub := r.client.Subscribe(ctx, alertsChannel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", alertsChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.AlertEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func decodeData(msg goredis.XMessage, v any) bool {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(data), v) == nil
}
