// Package ringbuf provides a fixed-capacity history ring. Pushing onto a full
// ring evicts the oldest element, so indicator and IV histories stay bounded
// no matter how long the tick stream runs.
//
// A Ring is owned by a single goroutine (the instrument worker) and is not
// safe for concurrent use.
package ringbuf

// Ring is a bounded FIFO history of T values.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int

	// evicted counts elements dropped by Push on a full ring
	evicted uint64
}

// New creates a ring holding at most capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full.
// Returns true if a value was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return true
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns how many values were dropped to keep the ring bounded.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// At returns the i-th value, 0 being the oldest. Panics when out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.At(r.count - 1), true
}

// Tail returns a copy of the newest n values, oldest first.
// n larger than Len returns everything.
func (r *Ring[T]) Tail(n int) []T {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.At(start + i)
	}
	return out
}

// Values returns a copy of all values, oldest first.
func (r *Ring[T]) Values() []T {
	return r.Tail(r.count)
}

// Reset empties the ring without reallocating.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count = 0, 0
}
