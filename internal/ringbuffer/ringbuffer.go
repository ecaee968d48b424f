// Package ringbuffer provides a generic, fixed-capacity circular buffer with
// a non-overwriting push (PushBack), an evicting push (PushBackOverwrite)
// and contiguous-subsequence matching, used for the audio song queue and
// the ocarina key history.
package ringbuffer

import (
	"errors"
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// ErrFull is returned by PushBack when the buffer is already at capacity.
// PushBack never overwrites the oldest entry; a caller that wants eviction
// uses PushBackOverwrite instead.
var ErrFull = errors.New("ringbuffer: full")

// ErrEmpty is returned by PopFront when the buffer has no elements.
var ErrEmpty = errors.New("ringbuffer: empty")

// CircularBuffer is a fixed-capacity FIFO queue of comparable elements.
// All methods are safe for concurrent use.
type CircularBuffer[T comparable] struct {
	mu       sync.Mutex
	buf      mpmc.RingBuffer[T]
	capacity int
	count    int
}

// New creates a CircularBuffer with room for capacity elements.
func New[T comparable](capacity int) *CircularBuffer[T] {
	return &CircularBuffer[T]{
		buf:      mpmc.NewRingBuffer[T](uint32(capacity)),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of elements the buffer can hold.
func (c *CircularBuffer[T]) Capacity() int {
	return c.capacity
}

// Count returns the number of elements currently stored.
func (c *CircularBuffer[T]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// PushBack appends an element to the tail of the buffer. It returns ErrFull
// without modifying the buffer if it is already at capacity.
func (c *CircularBuffer[T]) PushBack(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count >= c.capacity {
		return ErrFull
	}
	if err := c.buf.Enqueue(item); err != nil {
		return ErrFull
	}
	c.count++
	return nil
}

// PushBackOverwrite appends an element to the tail of the buffer, evicting
// the oldest element first if the buffer is already at capacity. This
// matches CircularBuffer_PushBack's documented overflow behavior (the
// original firmware's buffer always overwrites rather than rejecting), used
// by callers that want a sliding window rather than a bounded queue.
func (c *CircularBuffer[T]) PushBackOverwrite(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count >= c.capacity {
		if _, err := c.buf.Dequeue(); err == nil {
			c.count--
		}
	}
	if err := c.buf.Enqueue(item); err == nil {
		c.count++
	}
}

// PopFront removes and returns the oldest element in the buffer.
func (c *CircularBuffer[T]) PopFront() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if c.count == 0 {
		return zero, ErrEmpty
	}
	v, err := c.buf.Dequeue()
	if err != nil {
		return zero, ErrEmpty
	}
	c.count--
	return v, nil
}

// Clear removes all elements without changing capacity.
func (c *CircularBuffer[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.count > 0 {
		if _, err := c.buf.Dequeue(); err != nil {
			break
		}
		c.count--
	}
}

// Snapshot returns a copy of the buffer's current contents, oldest first.
// It drains and refills the backing ring so the buffer's order is preserved.
func (c *CircularBuffer[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]T, 0, c.count)
	for i := 0; i < c.count; i++ {
		v, err := c.buf.Dequeue()
		if err != nil {
			break
		}
		items = append(items, v)
	}
	for _, v := range items {
		_ = c.buf.Enqueue(v)
	}
	return items
}

// MatchSequence reports whether pattern occurs as a contiguous subsequence
// of the buffer's current contents, scanning oldest to newest.
func (c *CircularBuffer[T]) MatchSequence(pattern []T) bool {
	if len(pattern) == 0 {
		return true
	}
	contents := c.Snapshot()
	if len(pattern) > len(contents) {
		return false
	}
	for start := 0; start+len(pattern) <= len(contents); start++ {
		matched := true
		for i, want := range pattern {
			if contents[start+i] != want {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
