// Package superbuf shares large receive buffers ("superbufs") between the
// hardware receive queues of a NIC and any number of application rxqs.
//
// Process context creates and frees rxqs through a NIC from any goroutine.
// Everything else, including every refcount and ownership bit, is changed
// only by the NIC's single Poller.
package superbuf

import (
	"sync/atomic"

	ringbuf "github.com/lab47/efvi/pkg/ring_buf"
	"github.com/lab47/lsvd/logger"
)

// SuperbufReturner takes superbufs no rxq references any more back to the
// hardware.
type SuperbufReturner interface {
	ReturnSuperbuf(qid int, sbid uint32)
}

// pool is the state behind one hardware receive queue.
type pool struct {
	qid int

	pending appList

	// polling context
	live       []*Rxq
	destroying []*Rxq
	refcount   [MaxSuperbufs]uint32
	inFifo     bitmap
	fifo       *ringbuf.RingBuf[uint32]
}

type NIC struct {
	log     logger.Logger
	hw      SuperbufReturner
	metrics *Metrics

	pools [MaxRxqs]pool

	pollerTaken atomic.Bool
	poller      Poller
}

// NewNIC returns a NIC whose superbufs are handed back to hw. metrics may
// be nil.
func NewNIC(log logger.Logger, hw SuperbufReturner, metrics *Metrics) *NIC {
	n := &NIC{
		log:     log,
		hw:      hw,
		metrics: metrics,
	}

	for i := range n.pools {
		n.pools[i].qid = i
		n.pools[i].fifo = ringbuf.NewRingBuf[uint32](MaxSuperbufs)
	}

	n.poller.nic = n

	return n
}

func (n *NIC) pool(qid int) (*pool, error) {
	if qid < 0 || qid >= MaxRxqs {
		return nil, ErrBadQueue
	}

	return &n.pools[qid], nil
}

// Bind creates an rxq on hardware queue qid. The rxq starts receiving once
// the Poller next runs. Bind may be called from any goroutine.
func (n *NIC) Bind(qid int, cfg RxqConfig) (*Rxq, error) {
	pl, err := n.pool(qid)
	if err != nil {
		return nil, err
	}

	if cfg.MaxAllowedSuperbufs == 0 {
		cfg.MaxAllowedSuperbufs = DefaultMaxAllowedSuperbufs
	}

	if cfg.MaxAllowedSuperbufs > MaxSuperbufs {
		return nil, ErrBadMaxAllowed
	}

	app := &Rxq{
		qid:        qid,
		nHugepages: cfg.NHugepages,
		maxAllowed: cfg.MaxAllowedSuperbufs,
		shm:        newShm(cfg.MaxAllowedSuperbufs),
		nextSeq:    cfg.NextSeq,
	}

	pl.pending.push(app)

	n.log.Trace("rxq bound", "qid", qid, "max-superbufs", cfg.MaxAllowedSuperbufs)

	return app, nil
}

// Free marks rxq for destruction. The Poller gives back every superbuf it
// holds and then calls freer, once. Free itself releases nothing.
func (n *NIC) Free(rxq *Rxq, freer FreeFunc) error {
	if !rxq.freeing.CompareAndSwap(false, true) {
		return ErrAlreadyFreed
	}

	rxq.freer = freer
	rxq.destroy.Store(true)

	return nil
}

// Poller returns the NIC's polling context. It can be taken once.
func (n *NIC) Poller() (*Poller, error) {
	if !n.pollerTaken.CompareAndSwap(false, true) {
		return nil, ErrPollerTaken
	}

	return &n.poller, nil
}
