package superbuf

import ringbuf "github.com/lab47/efvi/pkg/ring_buf"

// Shm is the block an rxq shares with the application consuming it. The
// polling context delivers superbuf ids on one ring and the application
// hands them back on the other; each ring has a single writer.
type Shm struct {
	rxq   *ringbuf.RingBuf[uint32]
	freeq *ringbuf.RingBuf[uint32]
}

func newShm(sz uint32) *Shm {
	return &Shm{
		rxq:   ringbuf.NewRingBuf[uint32](int(sz)),
		freeq: ringbuf.NewRingBuf[uint32](int(sz)),
	}
}

// Next returns the next superbuf delivered to the application.
func (s *Shm) Next() (uint32, bool) {
	return s.rxq.Pop()
}

// Release hands a superbuf the application has finished with back to the
// polling context. It returns false if the free ring is full, which only
// happens when buffers are released more than once.
func (s *Shm) Release(sbid uint32) bool {
	return s.freeq.Push(sbid)
}

// Delivered is the count of superbufs ever delivered.
func (s *Shm) Delivered() uint32 {
	return s.rxq.WriteSeq()
}

// Consumed is the count of superbufs the application has taken.
func (s *Shm) Consumed() uint32 {
	return s.rxq.ReadSeq()
}

// Released is the count of superbufs the application has handed back.
func (s *Shm) Released() uint32 {
	return s.freeq.WriteSeq()
}
