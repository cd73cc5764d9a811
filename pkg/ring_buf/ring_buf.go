package ringbuf

import (
	"math/bits"
	"sync/atomic"
)

// RingBuf is a single-producer single-consumer ring. The read and write
// cursors run freely and are masked into the ring, so the full capacity is
// usable and the cursors double as sequence numbers.
type RingBuf[V any] struct {
	ring []V
	mask uint32

	read, write atomic.Uint32
}

// NewRingBuf returns a ring holding at least sz values. The size is rounded
// up to a power of two.
func NewRingBuf[V any](sz int) *RingBuf[V] {
	if sz < 1 {
		sz = 1
	}

	n := uint32(1) << bits.Len32(uint32(sz-1))

	return &RingBuf[V]{
		ring: make([]V, n),
		mask: n - 1,
	}
}

func (r *RingBuf[V]) Pop() (V, bool) {
	rv := r.read.Load()
	wv := r.write.Load()

	if rv == wv {
		var v V
		return v, false
	}

	val := r.ring[rv&r.mask]
	r.read.Store(rv + 1)

	return val, true
}

func (r *RingBuf[V]) Front() (V, bool) {
	return r.At(0)
}

// At returns the value i positions behind the read cursor without
// consuming anything. Only the consumer may call it.
func (r *RingBuf[V]) At(i int) (V, bool) {
	rv := r.read.Load()
	wv := r.write.Load()

	if i < 0 || uint32(i) >= wv-rv {
		var v V
		return v, false
	}

	return r.ring[(rv+uint32(i))&r.mask], true
}

func (r *RingBuf[V]) Push(v V) bool {
	if r.FullP() {
		return false
	}

	wv := r.write.Load()

	r.ring[wv&r.mask] = v
	r.write.Store(wv + 1)

	return true
}

func (r *RingBuf[V]) EmptyP() bool {
	return r.read.Load() == r.write.Load()
}

func (r *RingBuf[V]) FullP() bool {
	return r.write.Load()-r.read.Load() == uint32(len(r.ring))
}

func (r *RingBuf[V]) Readable() int {
	return int(r.write.Load() - r.read.Load())
}

func (r *RingBuf[V]) Cap() int {
	return len(r.ring)
}

// ReadSeq is the number of values ever popped.
func (r *RingBuf[V]) ReadSeq() uint32 {
	return r.read.Load()
}

// WriteSeq is the number of values ever pushed.
func (r *RingBuf[V]) WriteSeq() uint32 {
	return r.write.Load()
}
