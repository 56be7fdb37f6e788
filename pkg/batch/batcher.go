package batch

import (
	"context"
	"sync"
	"time"
)

// FlushFunc receives every non-empty batch in the order items were added.
type FlushFunc[T any] func(ctx context.Context, items []T)

// Batcher collects items and hands them to a FlushFunc once the batch is full
// or the interval elapses, whichever comes first. Flushes never overlap.
type Batcher[T any] struct {
	size     int
	interval time.Duration
	flush    FlushFunc[T]

	mu      sync.Mutex
	pending []T
	stopped bool

	flushMu sync.Mutex

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func New[T any](size int, interval time.Duration, flush FlushFunc[T]) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	b := &Batcher[T]{
		size:     size,
		interval: interval,
		flush:    flush,
		pending:  make([]T, 0, size),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Add queues items. It reports false once the batcher is stopped.
func (b *Batcher[T]) Add(items ...T) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, items...)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush hands whatever is pending to the FlushFunc now.
func (b *Batcher[T]) Flush(ctx context.Context) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	items := b.pending
	b.pending = make([]T, 0, b.size)
	b.mu.Unlock()

	b.flush(ctx, items)
}

func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop flushes what is pending and waits for the flush loop to exit.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done
}

// Discard drops pending items and stops without flushing.
func (b *Batcher[T]) Discard() {
	b.mu.Lock()
	b.pending = b.pending[:0]
	b.mu.Unlock()
	b.Stop()
}

func (b *Batcher[T]) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.kick:
			b.Flush(context.Background())
		case <-b.stop:
			b.Flush(context.Background())
			return
		}
	}
}
