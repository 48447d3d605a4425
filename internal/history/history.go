// Package history keeps the bounded per-symbol observation history every
// windowed indicator reads its lookback from.
package history

import (
	"signal-engine/internal/model"
	"signal-engine/internal/ringbuf"
)

// DefaultCapacity is the number of observations kept per symbol.
const DefaultCapacity = 100

// History holds parallel price and volume sequences in chronological order.
// Both always have the same length. High/low ranges feed only the recursive
// indicators and are not retained here.
type History struct {
	prices  *ringbuf.Ring
	volumes *ringbuf.Ring
}

// New creates an empty history. Non-positive capacity falls back to
// DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		prices:  ringbuf.New(capacity),
		volumes: ringbuf.New(capacity),
	}
}

// Push appends one observation, evicting the oldest once full.
func (h *History) Push(t model.Tick) {
	h.prices.Push(t.Price)
	h.volumes.Push(t.Volume)
}

// Undo reverts the most recent Push, restoring any evicted observation.
// Only one step can be undone.
func (h *History) Undo() bool {
	ok := h.prices.Undo()
	h.volumes.Undo()
	return ok
}

// Window returns up to k most recent prices, oldest first. Shorter
// histories return fewer entries; callers treat that as a normal case.
func (h *History) Window(k int) []float64 { return h.prices.Last(k) }

// VolumeWindow returns up to k most recent volumes, oldest first.
func (h *History) VolumeWindow(k int) []float64 { return h.volumes.Last(k) }

// Latest returns the newest price and volume and false when empty.
func (h *History) Latest() (price, volume float64, ok bool) {
	price, ok = h.prices.Newest()
	if !ok {
		return 0, 0, false
	}
	volume, _ = h.volumes.Newest()
	return price, volume, true
}

// Len returns the number of stored observations.
func (h *History) Len() int { return h.prices.Len() }

// Cap returns the history capacity.
func (h *History) Cap() int { return h.prices.Cap() }

// Reset drops every stored observation.
func (h *History) Reset() {
	h.prices.Reset()
	h.volumes.Reset()
}
