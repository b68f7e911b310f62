package metrics

// RingBuffer is a fixed-capacity FIFO. Pushing onto a full buffer evicts the oldest value.
// It is not safe for concurrent use; PerformanceMetrics guards every instance with its own lock.
type RingBuffer[T any] struct {
	items    []T
	head     int // index of the oldest element
	size     int
	observed int64 // values ever pushed since the last Reset
}

// NewRingBuffer creates a ring buffer holding at most capacity values.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the buffer is full.
func (r *RingBuffer[T]) Push(v T) {
	r.observed++
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++
		return
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
}

// Values returns a copy of the contents in insertion order, oldest first.
func (r *RingBuffer[T]) Values() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Last returns a copy of the newest n values, oldest first.
func (r *RingBuffer[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(r.head+start+i)%len(r.items)]
	}
	return out
}

// Len returns the number of values held.
func (r *RingBuffer[T]) Len() int { return r.size }

// Cap returns the capacity.
func (r *RingBuffer[T]) Cap() int { return len(r.items) }

// Observed returns how many values were ever pushed, including evicted ones.
func (r *RingBuffer[T]) Observed() int64 { return r.observed }

// Reset empties the buffer.
func (r *RingBuffer[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.size, r.observed = 0, 0, 0
}
