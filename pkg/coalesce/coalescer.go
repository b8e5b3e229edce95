package coalesce

import (
	"context"
	"sync"
	"time"
)

// Flusher receives the surviving value per key at each flush.
type Flusher[K comparable, V any] func(ctx context.Context, key K, value V)

// Coalescer collapses bursts of keyed updates: between flushes only the most
// recently offered value per key is kept, older ones are discarded.
type Coalescer[K comparable, V any] struct {
	interval time.Duration
	flush    Flusher[K, V]

	mu      sync.Mutex
	pending map[K]V

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a coalescer and starts its flush loop.
func New[K comparable, V any](interval time.Duration, flush Flusher[K, V]) *Coalescer[K, V] {
	c := &Coalescer[K, V]{
		interval: interval,
		flush:    flush,
		pending:  make(map[K]V),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go c.run()

	return c
}

// Offer records a value for the key, replacing any pending older value.
func (c *Coalescer[K, V]) Offer(key K, value V) {
	c.mu.Lock()
	c.pending[key] = value
	c.mu.Unlock()
}

// Flush immediately delivers all pending values.
func (c *Coalescer[K, V]) Flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = make(map[K]V)
	c.mu.Unlock()

	for key, value := range batch {
		c.flush(ctx, key, value)
	}
}

// Stop terminates the flush loop after a final flush.
func (c *Coalescer[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	<-c.done
}

func (c *Coalescer[K, V]) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush(context.Background())
		case <-c.stopChan:
			c.Flush(context.Background())
			return
		}
	}
}
