package optimize

import "sync"

// Pool is a typed sync.Pool. Reset, when set, runs before a value goes back.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

func NewPool[T any](newFn func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool:  sync.Pool{New: func() any { return newFn() }},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.pool.Put(v)
}

// BytePool hands out fixed-size buffers for packet reads. Buffers travel as
// *[]byte so putting them back does not allocate.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

func (p *BytePool) Size() int { return p.size }

// Get returns a buffer of exactly Size bytes.
func (p *BytePool) Get() *[]byte {
	b := p.pool.Get().(*[]byte)
	*b = (*b)[:p.size]
	return b
}

// Put drops buffers that were shrunk below the pool size.
func (p *BytePool) Put(b *[]byte) {
	if b == nil || cap(*b) < p.size {
		return
	}
	p.pool.Put(b)
}
