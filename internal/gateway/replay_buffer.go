package gateway

import (
	"sync"

	"tick-analytics/internal/ringbuf"
)

// replayEntry holds one broadcast envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one channel so a client
// that noticed a channel_seq gap can fetch what it missed.
type ReplayBuffer struct {
	mu  sync.RWMutex
	buf *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a replay buffer. capacity <= 0 means 500.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: ringbuf.New[replayEntry](capacity)}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.buf.Push(replayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// Range returns entries with fromSeq <= seq <= toSeq, oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.buf.Len(); i++ {
		e := rb.buf.At(i)
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.buf.Len()
}
