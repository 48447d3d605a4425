// Package ringbuf provides a fixed-capacity FIFO ring of float64 values.
// Once full, each Push overwrites the oldest value. It is owned by a single
// goroutine and does no locking.
package ringbuf

// Ring is a bounded FIFO of float64 observations.
type Ring struct {
	buf   []float64
	head  int // next write position
	count int

	// Evicted counts values overwritten after the ring filled up.
	evicted uint64

	// undo state for the most recent Push
	overwritten float64
	undoEvicted bool
	canUndo     bool
}

// New creates a ring holding at most capacity values. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full.
func (r *Ring) Push(v float64) {
	r.overwritten = r.buf[r.head]
	r.canUndo = true
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		r.undoEvicted = false
		return
	}
	r.evicted++
	r.undoEvicted = true
}

// Undo reverts the most recent Push, restoring any value it evicted. Only
// one step can be undone; it returns false when there is nothing to revert.
func (r *Ring) Undo() bool {
	if !r.canUndo {
		return false
	}
	r.canUndo = false
	r.head = (r.head - 1 + len(r.buf)) % len(r.buf)
	r.buf[r.head] = r.overwritten
	if r.undoEvicted {
		r.evicted--
	} else {
		r.count--
	}
	return true
}

// Last returns the k most recent values oldest-first. When fewer than k
// values are stored, all of them are returned. The result is a copy.
func (r *Ring) Last(k int) []float64 {
	if k > r.count {
		k = r.count
	}
	if k <= 0 {
		return nil
	}
	out := make([]float64, k)
	start := (r.head - k + len(r.buf)) % len(r.buf)
	for i := 0; i < k; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// At returns the i-th stored value counting from the oldest (0) and false
// when i is out of range.
func (r *Ring) At(i int) (float64, bool) {
	if i < 0 || i >= r.count {
		return 0, false
	}
	oldest := (r.head - r.count + len(r.buf)) % len(r.buf)
	return r.buf[(oldest+i)%len(r.buf)], true
}

// Newest returns the most recently pushed value and false when empty.
func (r *Ring) Newest() (float64, bool) {
	return r.At(r.count - 1)
}

// Len returns the number of stored values.
func (r *Ring) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Evicted returns how many values have been overwritten so far.
func (r *Ring) Evicted() uint64 { return r.evicted }

// Reset empties the ring without reallocating.
func (r *Ring) Reset() {
	r.canUndo = false
	r.head = 0
	r.count = 0
	r.evicted = 0
	for i := range r.buf {
		r.buf[i] = 0
	}
}
