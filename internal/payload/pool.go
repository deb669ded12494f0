// Package payload provides the pre-generated payload ring shared by all
// protocol workers. Buffers are filled once at construction and never
// mutated afterwards, so reads need no locking.
package payload

import (
	"crypto/rand"
	"sync/atomic"
)

const (
	// DefaultSize is the per-buffer payload size in bytes.
	DefaultSize = 1200
	// DefaultCount is the number of buffers in the ring.
	DefaultCount = 512
)

// Pool is a fixed-size ring of opaque payload buffers. It outlives
// individual runs and is shared read-only across workers.
type Pool struct {
	buffers [][]byte
	cursor  uint64
}

// NewPool pre-fills count random-content buffers of size bytes each.
// Non-positive arguments fall back to the defaults.
func NewPool(size, count int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if count <= 0 {
		count = DefaultCount
	}
	buffers := make([][]byte, count)
	for i := range buffers {
		buf := make([]byte, size)
		_, _ = rand.Read(buf)
		buffers[i] = buf
	}
	return &Pool{buffers: buffers}
}

// Next returns the next buffer round-robin. Callers must treat the
// returned slice as read-only.
func (p *Pool) Next() []byte {
	idx := atomic.AddUint64(&p.cursor, 1) - 1
	return p.buffers[idx%uint64(len(p.buffers))]
}

// Size reports the per-buffer payload size in bytes.
func (p *Pool) Size() int { return len(p.buffers[0]) }

// Count reports the number of buffers in the ring.
func (p *Pool) Count() int { return len(p.buffers) }
