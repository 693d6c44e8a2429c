// Package ringbuffer provides a thread-safe fixed-capacity circular buffer.
package ringbuffer

import "sync"

// Buffer is a thread-safe circular buffer. Once full, each Push overwrites the
// oldest entry. A capacity of 0 keeps only the most recently pushed item.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	count int
	cap   int
}

// New creates a buffer with the given capacity. Capacities below zero are
// treated as zero.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	slots := capacity
	if slots == 0 {
		slots = 1
	}
	return &Buffer[T]{
		items: make([]T, slots),
		cap:   capacity,
	}
}

// Push inserts an item, overwriting the oldest if full. It never blocks on
// anything but the buffer's own lock.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slots := len(b.items)
	if b.count == slots {
		// Buffer is full, overwrite oldest
		b.items[b.head] = item
		b.head = (b.head + 1) % slots
		return
	}
	b.items[(b.head+b.count)%slots] = item
	b.count++
}

// Snapshot returns all items in insertion order (oldest first).
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	slots := len(b.items)
	result := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.items[(b.head+i)%slots]
	}
	return result
}

// Latest returns the most recently pushed item. ok is false when the buffer
// is empty.
func (b *Buffer[T]) Latest() (item T, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return item, false
	}
	return b.items[(b.head+b.count-1)%len(b.items)], true
}

// Len returns the number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the configured capacity (0 for a latest-only buffer).
func (b *Buffer[T]) Cap() int {
	return b.cap
}

// Reset drops all items.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.count = 0
}
