package superbuf_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lab47/efvi/superbuf"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var log = logger.New(logger.Trace)

type returned struct {
	qid  int
	sbid uint32
}

type fakeHW struct {
	returned []returned
}

func (h *fakeHW) ReturnSuperbuf(qid int, sbid uint32) {
	h.returned = append(h.returned, returned{qid, sbid})
}

func (h *fakeHW) ids() []uint32 {
	var out []uint32
	for _, r := range h.returned {
		out = append(out, r.sbid)
	}
	return out
}

func newNIC(t *testing.T, m *superbuf.Metrics) (*superbuf.NIC, *superbuf.Poller, *fakeHW) {
	hw := &fakeHW{}
	nic := superbuf.NewNIC(log, hw, m)

	p, err := nic.Poller()
	require.NoError(t, err)

	return nic, p, hw
}

func arrive(t *testing.T, p *superbuf.Poller, qid int, ids ...uint32) {
	for _, id := range ids {
		require.NoError(t, p.SuperbufArrived(qid, id))
	}
}

func drain(shm *superbuf.Shm) []uint32 {
	var out []uint32
	for {
		id, ok := shm.Next()
		if !ok {
			return out
		}
		out = append(out, id)
	}
}

func unwrap(v any) any {
	if err, ok := v.(error); ok {
		return errors.Cause(err)
	}
	return v
}

func TestBind(t *testing.T) {
	t.Run("validates queue and cap", func(t *testing.T) {
		r := require.New(t)

		nic, _, _ := newNIC(t, nil)

		_, err := nic.Bind(-1, superbuf.RxqConfig{})
		r.ErrorIs(err, superbuf.ErrBadQueue)

		_, err = nic.Bind(superbuf.MaxRxqs, superbuf.RxqConfig{})
		r.ErrorIs(err, superbuf.ErrBadQueue)

		_, err = nic.Bind(0, superbuf.RxqConfig{MaxAllowedSuperbufs: superbuf.MaxSuperbufs + 1})
		r.ErrorIs(err, superbuf.ErrBadMaxAllowed)

		q, err := nic.Bind(3, superbuf.RxqConfig{NHugepages: 2})
		r.NoError(err)

		r.Equal(3, q.QID())
		r.Equal(2, q.NHugepages())
		r.Equal(uint32(superbuf.DefaultMaxAllowedSuperbufs), q.MaxAllowedSuperbufs())
		r.Zero(q.OwnedSuperbufs())
		r.False(q.Destroying())
	})

	t.Run("hands out the poller once", func(t *testing.T) {
		r := require.New(t)

		nic, _, _ := newNIC(t, nil)

		_, err := nic.Poller()
		r.ErrorIs(err, superbuf.ErrPollerTaken)
	})

	t.Run("frees a queue once", func(t *testing.T) {
		r := require.New(t)

		nic, _, _ := newNIC(t, nil)

		q, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		r.NoError(nic.Free(q, nil))
		r.True(q.Destroying())

		r.ErrorIs(nic.Free(q, nil), superbuf.ErrAlreadyFreed)
	})

	t.Run("attaches concurrently bound queues exactly once", func(t *testing.T) {
		r := require.New(t)

		nic, p, _ := newNIC(t, nil)

		const binders = 32

		var (
			wg    sync.WaitGroup
			bound = make(chan *superbuf.Rxq, binders)
		)

		for i := 0; i < binders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q, err := nic.Bind(1, superbuf.RxqConfig{})
				if err == nil {
					bound <- q
				}
			}()
		}

		for len(p.Live(1)) < binders {
			p.Poll()
		}

		wg.Wait()
		close(bound)
		p.Poll()

		seen := map[*superbuf.Rxq]int{}
		for _, q := range p.Live(1) {
			seen[q]++
		}

		r.Len(seen, binders)

		for q := range bound {
			r.Equal(1, seen[q])
		}

		r.NoError(p.Verify())
	})
}

func TestDelivery(t *testing.T) {
	t.Run("delivers in arrival order and returns released buffers", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		q, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 4, 9, 1, 7, 30)
		r.Equal(5, p.Poll())

		r.Equal([]uint32{4, 9, 1, 7, 30}, drain(q.Shm()))
		r.Equal(uint32(5), q.OwnedSuperbufs())
		r.Equal(uint32(1), p.Refcount(0, 9))
		r.Zero(p.InFifo(0))
		r.Empty(hw.returned)
		r.NoError(p.Verify())

		for _, id := range []uint32{9, 30, 4} {
			r.True(q.Shm().Release(id))
		}

		p.Poll()

		r.Equal([]uint32{9, 30, 4}, hw.ids())
		r.Equal(uint32(2), q.OwnedSuperbufs())
		r.Zero(p.Refcount(0, 9))
		r.NoError(p.Verify())

		r.Equal(uint32(5), q.Shm().Delivered())
		r.Equal(uint32(5), q.Shm().Consumed())
		r.Equal(uint32(3), q.Shm().Released())
	})

	t.Run("keeps hardware queues apart", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		q0, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		q2, err := nic.Bind(2, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 5)
		arrive(t, p, 2, 5, 6)
		p.Poll()

		r.Equal([]uint32{5}, drain(q0.Shm()))
		r.Equal([]uint32{5, 6}, drain(q2.Shm()))

		r.True(q2.Shm().Release(5))
		p.Poll()

		r.Equal([]returned{{2, 5}}, hw.returned)
		r.Equal(uint32(1), p.Refcount(0, 5))
	})

	t.Run("shares buffers between queues", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		a, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		b, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 2, 3)
		p.Poll()

		r.Equal([]uint32{2, 3}, drain(a.Shm()))
		r.Equal([]uint32{2, 3}, drain(b.Shm()))
		r.Equal(uint32(2), p.Refcount(0, 2))
		r.NoError(p.Verify())

		r.True(a.Shm().Release(2))
		p.Poll()

		r.Equal(uint32(1), p.Refcount(0, 2))
		r.Empty(hw.returned)

		r.True(b.Shm().Release(2))
		p.Poll()

		r.Zero(p.Refcount(0, 2))
		r.Equal([]uint32{2}, hw.ids())
		r.NoError(p.Verify())
	})

	t.Run("returns buffers nobody is listening for", func(t *testing.T) {
		r := require.New(t)

		_, p, hw := newNIC(t, nil)

		arrive(t, p, 0, 11, 12)
		p.Poll()

		r.Equal([]uint32{11, 12}, hw.ids())
		r.Zero(p.InFifo(0))
	})

	t.Run("ignores releases of buffers the queue does not own", func(t *testing.T) {
		r := require.New(t)

		reg := prometheus.NewRegistry()
		m := superbuf.NewMetrics(reg)

		nic, p, hw := newNIC(t, m)

		q, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 1)
		p.Poll()

		r.True(q.Shm().Release(2))
		r.True(q.Shm().Release(superbuf.MaxSuperbufs + 3))
		p.Poll()

		r.Empty(hw.returned)
		r.Equal(uint32(1), q.OwnedSuperbufs())
		r.Equal(float64(2), testutil.ToFloat64(m.BadReleases))
		r.NoError(p.Verify())
	})
}

func TestBackpressure(t *testing.T) {
	t.Run("stops at the cap and resumes in order", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		q, err := nic.Bind(0, superbuf.RxqConfig{MaxAllowedSuperbufs: 2})
		r.NoError(err)

		arrive(t, p, 0, 10, 11, 12, 13, 14)
		p.Poll()

		r.Equal([]uint32{10, 11}, drain(q.Shm()))
		r.Equal(3, p.InFifo(0))

		p.Poll()
		r.Empty(drain(q.Shm()))

		r.True(q.Shm().Release(10))
		p.Poll()

		r.Equal([]uint32{12}, drain(q.Shm()))
		r.Equal([]uint32{10}, hw.ids())

		r.True(q.Shm().Release(12))
		r.True(q.Shm().Release(11))
		p.Poll()

		r.Equal([]uint32{13, 14}, drain(q.Shm()))
		r.Zero(p.InFifo(0))
		r.NoError(p.Verify())
	})

	t.Run("catches a late queue up from the fifo head", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		slow, err := nic.Bind(0, superbuf.RxqConfig{MaxAllowedSuperbufs: 1})
		r.NoError(err)

		arrive(t, p, 0, 20, 21, 22)
		p.Poll()

		r.Equal([]uint32{20}, drain(slow.Shm()))
		r.Equal(2, p.InFifo(0))

		late, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		p.Poll()

		r.Equal([]uint32{21, 22}, drain(late.Shm()))
		r.Equal(2, p.InFifo(0))

		r.True(slow.Shm().Release(20))
		p.Poll()

		r.Equal([]uint32{21}, drain(slow.Shm()))
		r.Equal([]uint32{20}, hw.ids())
		r.Equal(uint32(2), p.Refcount(0, 21))
		r.Equal(1, p.InFifo(0))
		r.NoError(p.Verify())
	})

	t.Run("waits for a queue that starts ahead of the fifo", func(t *testing.T) {
		r := require.New(t)

		nic, p, _ := newNIC(t, nil)

		q, err := nic.Bind(0, superbuf.RxqConfig{NextSeq: 2})
		r.NoError(err)

		arrive(t, p, 0, 1)
		p.Poll()
		r.Empty(drain(q.Shm()))

		arrive(t, p, 0, 2, 3)
		p.Poll()
		r.Equal([]uint32{3}, drain(q.Shm()))
	})
}

func TestDestroy(t *testing.T) {
	t.Run("relinquishes owned buffers before freeing", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		q, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 3, 7)
		p.Poll()

		r.Equal(uint32(2), q.OwnedSuperbufs())
		r.Equal(uint32(1), p.Refcount(0, 3))
		r.Equal(uint32(1), p.Refcount(0, 7))

		var freed []*superbuf.Rxq
		r.NoError(nic.Free(q, func(q *superbuf.Rxq) {
			r.Zero(q.OwnedSuperbufs())
			r.Equal([]uint32{3, 7}, hw.ids())
			freed = append(freed, q)
		}))

		r.Empty(freed)

		p.Poll()

		r.Equal([]*superbuf.Rxq{q}, freed)
		r.Zero(p.Refcount(0, 3))
		r.Zero(p.Refcount(0, 7))
		r.Empty(p.Live(0))

		p.Poll()
		r.Len(freed, 1)
		r.NoError(p.Verify())
	})

	t.Run("leaves buffers shared with another queue", func(t *testing.T) {
		r := require.New(t)

		nic, p, hw := newNIC(t, nil)

		a, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		b, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 3, 7)
		p.Poll()

		var calls int
		r.NoError(nic.Free(a, func(*superbuf.Rxq) { calls++ }))
		p.Poll()

		r.Equal(1, calls)
		r.Empty(hw.returned)
		r.Equal(uint32(1), p.Refcount(0, 3))
		r.Equal([]*superbuf.Rxq{b}, p.Live(0))
		r.NoError(p.Verify())

		r.Equal([]uint32{3, 7}, drain(b.Shm()))
		r.True(b.Shm().Release(7))
		r.True(b.Shm().Release(3))
		p.Poll()

		r.Equal([]uint32{7, 3}, hw.ids())
	})

	t.Run("frees a queue destroyed before it attached", func(t *testing.T) {
		r := require.New(t)

		nic, p, _ := newNIC(t, nil)

		q, err := nic.Bind(4, superbuf.RxqConfig{})
		r.NoError(err)

		var calls int
		r.NoError(nic.Free(q, func(*superbuf.Rxq) { calls++ }))

		arrive(t, p, 4, 0)
		p.Poll()

		r.Equal(1, calls)
		r.Empty(p.Live(4))
		r.Zero(p.Refcount(4, 0))
	})
}

func TestArrival(t *testing.T) {
	t.Run("rejects bad ids", func(t *testing.T) {
		r := require.New(t)

		_, p, _ := newNIC(t, nil)

		r.ErrorIs(p.SuperbufArrived(superbuf.MaxRxqs, 0), superbuf.ErrBadQueue)
		r.ErrorIs(p.SuperbufArrived(0, superbuf.MaxSuperbufs), superbuf.ErrBadSuperbuf)
	})

	t.Run("panics on a buffer still in the fifo", func(t *testing.T) {
		r := require.New(t)

		_, p, _ := newNIC(t, nil)

		arrive(t, p, 0, 5)

		r.PanicsWithError(superbuf.ErrSuperbufInUse.Error(), func() {
			defer func() {
				panic(unwrap(recover()))
			}()
			p.SuperbufArrived(0, 5)
		})
	})

	t.Run("panics on a buffer a queue still owns", func(t *testing.T) {
		r := require.New(t)

		nic, p, _ := newNIC(t, nil)

		_, err := nic.Bind(0, superbuf.RxqConfig{})
		r.NoError(err)

		arrive(t, p, 0, 5)
		p.Poll()

		r.PanicsWithError(superbuf.ErrSuperbufInUse.Error(), func() {
			defer func() {
				panic(unwrap(recover()))
			}()
			p.SuperbufArrived(0, 5)
		})
	})
}

func TestConcurrentConsumer(t *testing.T) {
	r := require.New(t)

	reg := prometheus.NewRegistry()
	m := superbuf.NewMetrics(reg)

	hw := &fakeHW{}
	nic := superbuf.NewNIC(log, hw, m)

	p, err := nic.Poller()
	r.NoError(err)

	q, err := nic.Bind(0, superbuf.RxqConfig{MaxAllowedSuperbufs: 8})
	r.NoError(err)

	const total = 5000
	const pool = 32

	free := make([]uint32, 0, pool)
	for i := uint32(0); i < pool; i++ {
		free = append(free, i)
	}

	var (
		done     atomic.Bool
		received []uint32
	)

	go func() {
		defer done.Store(true)

		shm := q.Shm()
		for len(received) < total {
			id, ok := shm.Next()
			if !ok {
				continue
			}
			received = append(received, id)
			for !shm.Release(id) {
			}
		}
	}()

	var sent []uint32

	for !done.Load() {
		for _, rt := range hw.returned {
			free = append(free, rt.sbid)
		}
		hw.returned = hw.returned[:0]

		if len(sent) < total && len(free) > 0 {
			id := free[0]
			free = free[1:]
			r.NoError(p.SuperbufArrived(0, id))
			sent = append(sent, id)
		}

		p.Poll()
	}

	p.Poll()

	r.Equal(sent, received)
	r.Zero(q.OwnedSuperbufs())
	r.Zero(p.InFifo(0))
	r.NoError(p.Verify())

	r.Equal(float64(total), testutil.ToFloat64(m.Arrived))
	r.Equal(float64(total), testutil.ToFloat64(m.Delivered))
	r.Equal(float64(total), testutil.ToFloat64(m.Returned))
	r.Equal(float64(1), testutil.ToFloat64(m.Attached))
}
