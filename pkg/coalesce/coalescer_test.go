package coalesce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string][]int
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string][]int)}
}

func (r *recorder) flush(ctx context.Context, key string, value int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[key] = append(r.calls[key], value)
}

func (r *recorder) got(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.calls[key]...)
}

func TestCoalescer_KeepsOnlyNewestPerKey(t *testing.T) {
	rec := newRecorder()
	c := New(time.Hour, rec.flush)
	defer c.Stop()

	c.Offer("a", 1)
	c.Offer("a", 2)
	c.Offer("a", 3)
	c.Offer("b", 10)

	c.Flush(context.Background())

	assert.Equal(t, []int{3}, rec.got("a"))
	assert.Equal(t, []int{10}, rec.got("b"))
}

func TestCoalescer_PeriodicFlush(t *testing.T) {
	rec := newRecorder()
	c := New(10*time.Millisecond, rec.flush)
	defer c.Stop()

	c.Offer("a", 7)

	assert.Eventually(t, func() bool {
		return len(rec.got("a")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCoalescer_StopFlushesPending(t *testing.T) {
	rec := newRecorder()
	c := New(time.Hour, rec.flush)

	c.Offer("a", 99)
	c.Stop()

	assert.Equal(t, []int{99}, rec.got("a"))

	// Stop is idempotent.
	c.Stop()
}

func TestCoalescer_EmptyFlushIsNoop(t *testing.T) {
	rec := newRecorder()
	c := New(time.Hour, rec.flush)
	defer c.Stop()

	c.Flush(context.Background())
	assert.Empty(t, rec.got("a"))
}
