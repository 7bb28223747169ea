package cache

import "sync"

type call[V any] struct {
	wg  sync.WaitGroup
	val V
	err error
}

// Coalescer deduplicates concurrent fetches for the same key: while a fetch
// for a key is in flight, callers for that key join the pending operation
// instead of issuing their own. All joined callers receive the same outcome,
// success or failure. The registration is removed when the operation
// completes regardless of outcome, so a failed key is immediately free for a
// fresh attempt.
type Coalescer[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

// NewCoalescer creates an empty coalescer.
func NewCoalescer[K comparable, V any]() *Coalescer[K, V] {
	return &Coalescer[K, V]{calls: make(map[K]*call[V])}
}

// Do runs fn for key, or joins the in-flight call for key if one exists.
// The returned joined flag reports whether this caller shared another
// caller's fetch.
func (c *Coalescer[K, V]) Do(key K, fn func() (V, error)) (value V, joined bool, err error) {
	c.mu.Lock()
	if pending, ok := c.calls[key]; ok {
		c.mu.Unlock()
		pending.wg.Wait()
		return pending.val, true, pending.err
	}

	pending := new(call[V])
	pending.wg.Add(1)
	c.calls[key] = pending
	c.mu.Unlock()

	pending.val, pending.err = fn()

	c.mu.Lock()
	delete(c.calls, key)
	c.mu.Unlock()
	pending.wg.Done()

	return pending.val, false, pending.err
}

// InFlight returns the number of pending operations.
func (c *Coalescer[K, V]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
