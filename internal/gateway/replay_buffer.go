package gateway

import (
	"sync"

	"signal-engine/internal/model"
)

// ReplayBuffer keeps the most recent publications of one symbol so a
// client that noticed a sequence gap can backfill over REST.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []model.Published
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]model.Published, capacity)}
}

// Push appends a publication, overwriting the oldest when full.
func (rb *ReplayBuffer) Push(p model.Published) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = p
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// Range returns publications with seq in [fromSeq, toSeq], oldest first.
// toSeq <= 0 means no upper bound.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []model.Published {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []model.Published
	n := rb.len()
	for i := 0; i < n; i++ {
		p := rb.buf[rb.index(i)]
		if p.Seq >= fromSeq && (toSeq <= 0 || p.Seq <= toSeq) {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of publications currently held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

// Reset drops everything, e.g. after the symbol's pipeline restarted and
// sequence numbers began again at 1.
func (rb *ReplayBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pos, rb.full = 0, false
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % len(rb.buf)
	}
	return logical
}
