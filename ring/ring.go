// Package ring - Fixed-capacity FIFO buffers that evict the oldest element on overflow.
package ring

// Buffer is a bounded, insertion-ordered sequence.
//
// Pushing past capacity evicts the oldest element. If a release hook is set it
// is called with every element that leaves the buffer by eviction or Clear, so
// buffers of native resources (gocv.Mat) do not leak.
//
// Buffer is not safe for concurrent use; it is owned by a single goroutine and
// handed to other goroutines only through Snapshot copies.
type Buffer[T any] struct {
	items   []T
	head    int
	size    int
	release func(T)
}

// New creates a buffer holding at most capacity elements.
//
// Arguments:
//   - capacity: Maximum number of elements, values below 1 are raised to 1.
//   - release: Optional hook called for evicted or cleared elements.
//
// Returns:
//   - *Buffer[T]: The empty buffer.
//
// @example
// frames := ring.New[gocv.Mat](100, func(m gocv.Mat) { m.Close() })
// frames.Push(img.Clone())
func New[T any](capacity int, release func(T)) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items:   make([]T, capacity),
		release: release,
	}
}

// Push appends v, evicting the oldest element when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = v
		b.size++
		return
	}

	evicted := b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % capacity
	if b.release != nil {
		b.release(evicted)
	}
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the configured capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// At returns the i-th element in arrival order, 0 being the oldest.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest element and false when the buffer is empty.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Tail returns a copy of the newest n elements in arrival order.
//
// If fewer than n elements are buffered, all of them are returned.
func (b *Buffer[T]) Tail(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := b.size - n
	for i := range out {
		out[i] = b.At(start + i)
	}
	return out
}

// Values returns a copy of every element in arrival order.
func (b *Buffer[T]) Values() []T {
	return b.Tail(b.size)
}

// Snapshot returns a deep copy of the buffer contents in arrival order.
//
// Arguments:
//   - clone: Copies one element; the copy must not share mutable state with
//     the buffered element.
//
// Returns:
//   - []T: Independent copies, safe to hand to another goroutine.
//
// @example
// snapshot := frames.Snapshot(func(m gocv.Mat) gocv.Mat { return m.Clone() })
func (b *Buffer[T]) Snapshot(clone func(T) T) []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = clone(b.At(i))
	}
	return out
}

// Clear drops every element, calling the release hook for each.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % len(b.items)
		if b.release != nil {
			b.release(b.items[idx])
		}
		b.items[idx] = zero
	}
	b.head = 0
	b.size = 0
}
