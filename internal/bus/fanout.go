// Package bus broadcasts values from one producer to any number of
// consumers without letting a slow consumer block the producer.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Policy decides what happens when a subscriber's buffer is full.
type Policy int

const (
	// DropNewest discards the value being published for that subscriber.
	DropNewest Policy = iota
	// KeepLatest evicts the oldest buffered value so the subscriber always
	// ends up holding the most recent one.
	KeepLatest
)

// FanOut broadcasts values to every subscribed channel.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int
	policy  Policy
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int, policy Policy) *FanOut[T] {
	if outputBufferSize < 1 {
		outputBufferSize = 1
	}
	return &FanOut[T]{
		bufSize: outputBufferSize,
		policy:  policy,
	}
}

// Subscribe creates and returns a new output channel. Subscribing to a
// closed FanOut returns an already-closed channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.outputs = append(f.outputs, ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (f *FanOut[T]) Unsubscribe(ch <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, out := range f.outputs {
		if out == ch {
			f.outputs = append(f.outputs[:i], f.outputs[i+1:]...)
			close(out)
			return
		}
	}
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	// Write lock: KeepLatest drains and refills, which must not interleave
	// with another Publish on the same channel.
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- v:
			continue
		default:
		}
		if f.policy == KeepLatest {
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
				continue
			default:
			}
		}
		if f.OnDrop != nil {
			f.OnDrop(i)
		} else {
			slog.Warn("bus subscriber full, dropping value", "subscriber", i)
		}
	}
}

// Run reads from input and publishes every value until ctx is cancelled or
// input is closed, then closes all subscribers.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer f.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// Close closes every subscriber channel. Further publishes are ignored.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
	f.outputs = nil
}

// ChannelStat reports the saturation of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
