package guidance

import "sync"

// cell holds the latest value written by a telemetry source.
type cell[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

func (c *cell[T]) Store(v T) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.mu.Unlock()
}

// Load returns the latest value and whether one was ever stored.
func (c *cell[T]) Load() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// once keeps the first value offered to it.
type once[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

// Offer stores v unless a value is already held and reports whether it did.
func (o *once[T]) Offer(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set {
		return false
	}
	o.value = v
	o.set = true
	return true
}

func (o *once[T]) Load() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.set
}
