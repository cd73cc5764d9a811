package superbuf

import "math/bits"

// bitmap has one bit per superbuf slot of a pool.
type bitmap [MaxSuperbufs / 64]uint64

func (b *bitmap) test(i uint32) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b *bitmap) set(i uint32) {
	b[i/64] |= 1 << (i % 64)
}

func (b *bitmap) clear(i uint32) {
	b[i/64] &^= 1 << (i % 64)
}

func (b *bitmap) count() int {
	var n int
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// each calls fn for every set bit, lowest first. fn may clear the bit it
// is given.
func (b *bitmap) each(fn func(i uint32)) {
	for wi, w := range b {
		for w != 0 {
			bit := uint32(bits.TrailingZeros64(w))
			w &^= 1 << bit
			fn(uint32(wi)*64 + bit)
		}
	}
}
