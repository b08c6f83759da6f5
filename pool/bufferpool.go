// Package pool implements the fixed-size read-buffer pool backing each
// connection (spec.md §3: "a fixed-size read buffer (8 KiB)"). It
// generalizes the teacher's pool.BytePool/SimpleBytePool channel-backed
// pool to a single well-known buffer size shared by every connection in
// a server.
package pool

// ReadBufferSize is the fixed size of a connection's read buffer.
const ReadBufferSize = 8 * 1024

// BytePool is satisfied by anything handing out and reclaiming
// fixed-size byte slices.
type BytePool interface {
	Get() []byte
	Put([]byte)
}

// BufferPool is a channel-backed pool of ReadBufferSize-sized buffers,
// grounded on pool.SimpleBytePool: a bounded free list with an
// allocate-on-miss fallback so pool exhaustion never blocks a caller.
type BufferPool struct {
	free chan []byte
	size int
}

// NewBufferPool creates a pool of buffers of the given size with the
// given free-list capacity.
func NewBufferPool(capacity, size int) *BufferPool {
	p := &BufferPool{
		free: make(chan []byte, capacity),
		size: size,
	}
	for i := 0; i < capacity; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

// Get returns a buffer, allocating a new one if the free list is empty.
func (p *BufferPool) Get() []byte {
	select {
	case b := <-p.free:
		return b[:p.size]
	default:
		return make([]byte, p.size)
	}
}

// Put returns a buffer to the pool, discarding it if the free list is
// already full.
func (p *BufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	select {
	case p.free <- b[:p.size]:
	default:
	}
}
