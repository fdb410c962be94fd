package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool is a thread-safe pool of byte buffers backed by valyala/bytebufferpool,
// used by the prefetcher to drain segment response bodies without allocating
// a fresh buffer per request. Buffers grow to the configured size once and
// are reused across warm cycles.
type Pool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewPool creates a Pool whose buffers are pre-grown to bufferSize bytes.
func NewPool(bufferSize int64) *Pool {
	return &Pool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a reset buffer from the pool, growing its capacity to the
// configured size when necessary.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	buf.Reset()
	if cap(buf.B) < p.bufferSize {
		buf.B = make([]byte, 0, p.bufferSize)
	}
	return buf
}

// Put returns a buffer to the pool.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
