package superbuf

import "sync/atomic"

const (
	// MaxSuperbufs is the number of superbuf slots in a pool.
	MaxSuperbufs = 512
	// MaxRxqs is the number of hardware receive queues per NIC.
	MaxRxqs = 8

	DefaultMaxAllowedSuperbufs = 16
)

type RxqConfig struct {
	// MaxAllowedSuperbufs caps how many superbufs the queue may hold at
	// once. Delivery pauses at the cap.
	MaxAllowedSuperbufs uint32
	// NHugepages is the number of hugepages backing the queue's buffers.
	NHugepages int
	// NextSeq is the pool sequence number of the first superbuf wanted.
	// Older sequences than the pool still holds start at the oldest held.
	NextSeq uint32
}

// FreeFunc releases an rxq. It runs once, on the polling context.
type FreeFunc func(*Rxq)

// Rxq is one application's subscription to a hardware receive queue.
// Fields under the polling context comment are only written by the Poller;
// process context sees them through the advisory accessors.
type Rxq struct {
	next *Rxq

	qid        int
	nHugepages int
	maxAllowed uint32
	shm        *Shm

	freeing atomic.Bool
	freer   FreeFunc
	destroy atomic.Bool

	// polling context
	nextSeq uint32
	owned   atomic.Uint32
	owns    bitmap
}

func (q *Rxq) QID() int {
	return q.qid
}

func (q *Rxq) NHugepages() int {
	return q.nHugepages
}

func (q *Rxq) MaxAllowedSuperbufs() uint32 {
	return q.maxAllowed
}

// Shm is the application's side of the queue.
func (q *Rxq) Shm() *Shm {
	return q.shm
}

// OwnedSuperbufs is advisory outside the polling context.
func (q *Rxq) OwnedSuperbufs() uint32 {
	return q.owned.Load()
}

// Destroying reports whether the queue has been freed.
func (q *Rxq) Destroying() bool {
	return q.destroy.Load()
}
