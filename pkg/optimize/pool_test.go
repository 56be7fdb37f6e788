package optimize

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1500)
	assert.Equal(t, 1500, pool.Size())

	buf := pool.Get()
	assert.Len(t, *buf, 1500)

	*buf = (*buf)[:12]
	pool.Put(buf)

	again := pool.Get()
	assert.Len(t, *again, 1500, "Get restores the full length")

	small := make([]byte, 10)
	pool.Put(&small)
	pool.Put(nil)
	assert.Len(t, *pool.Get(), 1500)
}

func TestPool_ResetsBeforeReuse(t *testing.T) {
	pool := NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, func(b *bytes.Buffer) { b.Reset() })

	b := pool.Get()
	b.WriteString("offer")
	pool.Put(b)

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, pool.Get().Len())
}

func BenchmarkBytePool(b *testing.B) {
	pool := NewBytePool(1500)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		(*buf)[0] = byte(i)
		pool.Put(buf)
	}
}

func BenchmarkByteAllocation(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := make([]byte, 1500)
		buf[0] = byte(i)
	}
}
