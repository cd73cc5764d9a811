package superbuf

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// Poller is the single polling context of a NIC. None of its methods may
// be called concurrently with each other.
type Poller struct {
	nic *NIC
}

// SuperbufArrived queues a superbuf the hardware has filled on queue qid.
// It is delivered to live rxqs by the following Poll calls.
func (p *Poller) SuperbufArrived(qid int, sbid uint32) error {
	pl, err := p.nic.pool(qid)
	if err != nil {
		return err
	}

	if sbid >= MaxSuperbufs {
		return errors.Wrapf(ErrBadSuperbuf, "superbuf %d", sbid)
	}

	if pl.inFifo.test(sbid) || pl.refcount[sbid] != 0 {
		panic(errors.Wrapf(ErrSuperbufInUse, "qid %d superbuf %d refcount %d", qid, sbid, pl.refcount[sbid]))
	}

	if !pl.fifo.Push(sbid) {
		panic(errors.Wrapf(ErrDeliveryOverrun, "qid %d", qid))
	}

	pl.inFifo.set(sbid)
	p.nic.metrics.add(arrived, 1)

	return nil
}

// Poll runs one round of the ownership protocol over every hardware
// queue and returns the number of superbufs that changed hands.
func (p *Poller) Poll() int {
	var work int

	for i := range p.nic.pools {
		work += p.pollPool(&p.nic.pools[i])
	}

	return work
}

func (p *Poller) pollPool(pl *pool) int {
	var work int

	for app := pl.pending.takeAll(); app != nil; {
		next := app.next
		app.next = nil
		p.attach(pl, app)
		app = next
	}

	live := pl.live[:0]

	for _, app := range pl.live {
		if app.destroy.Load() {
			p.nic.log.Info("rxq destroying", "qid", pl.qid, "owned", app.owned.Load())
			pl.destroying = append(pl.destroying, app)
			continue
		}

		work += p.reclaim(pl, app)
		work += p.deliver(pl, app)

		live = append(live, app)
	}

	clear(pl.live[len(live):])
	pl.live = live

	destroying := pl.destroying[:0]

	for _, app := range pl.destroying {
		work += p.reclaim(pl, app)

		app.owns.each(func(sbid uint32) {
			p.relinquish(pl, app, sbid)
			work++
		})

		if app.owned.Load() != 0 {
			destroying = append(destroying, app)
			continue
		}

		p.release(pl, app)
	}

	clear(pl.destroying[len(destroying):])
	pl.destroying = destroying

	p.trim(pl)

	return work
}

func (p *Poller) attach(pl *pool, app *Rxq) {
	if head := pl.fifo.ReadSeq(); int32(app.nextSeq-head) < 0 {
		app.nextSeq = head
	}

	pl.live = append(pl.live, app)
	p.nic.metrics.add(attached, 1)

	p.nic.log.Info("rxq attached", "qid", pl.qid, "next-seq", app.nextSeq, "live", len(pl.live))
}

// reclaim processes the superbufs app has handed back.
func (p *Poller) reclaim(pl *pool, app *Rxq) int {
	var n int

	for {
		sbid, ok := app.shm.freeq.Pop()
		if !ok {
			return n
		}

		if sbid >= MaxSuperbufs || !app.owns.test(sbid) {
			p.nic.log.Warn("rxq released superbuf it does not own", "qid", pl.qid, "superbuf", sbid)
			p.nic.metrics.add(badReleases, 1)
			continue
		}

		p.relinquish(pl, app, sbid)
		n++
	}
}

// deliver hands app the FIFO superbufs it has not seen, in order, up to
// its cap.
func (p *Poller) deliver(pl *pool, app *Rxq) int {
	var n int

	for {
		sbid, ok := pl.fifo.At(int(int32(app.nextSeq - pl.fifo.ReadSeq())))
		if !ok {
			break
		}

		if app.owned.Load() >= app.maxAllowed {
			p.nic.metrics.add(stalls, 1)
			break
		}

		if app.owns.test(sbid) {
			panic(errors.Wrapf(ErrInconsistent, "qid %d superbuf %d delivered twice\n%s", pl.qid, sbid, spew.Sdump(app.owns)))
		}

		if !app.shm.rxq.Push(sbid) {
			break
		}

		app.owns.set(sbid)
		app.owned.Add(1)
		app.nextSeq++
		pl.refcount[sbid]++
		n++
	}

	p.nic.metrics.add(delivered, n)

	return n
}

func (p *Poller) relinquish(pl *pool, app *Rxq, sbid uint32) {
	app.owns.clear(sbid)
	app.owned.Add(^uint32(0))

	pl.refcount[sbid]--

	if pl.refcount[sbid] == 0 && !pl.inFifo.test(sbid) {
		p.giveBack(pl, sbid)
	}
}

func (p *Poller) giveBack(pl *pool, sbid uint32) {
	p.nic.metrics.add(returned, 1)
	p.nic.hw.ReturnSuperbuf(pl.qid, sbid)
}

func (p *Poller) release(pl *pool, app *Rxq) {
	p.nic.log.Info("rxq released", "qid", pl.qid)
	p.nic.metrics.add(released, 1)

	if app.freer != nil {
		app.freer(app)
	}
}

// trim drops FIFO entries every live rxq has already been offered. With
// no live rxqs the FIFO empties.
func (p *Poller) trim(pl *pool) {
	limit := pl.fifo.WriteSeq()

	for _, app := range pl.live {
		if int32(app.nextSeq-limit) < 0 {
			limit = app.nextSeq
		}
	}

	for int32(limit-pl.fifo.ReadSeq()) > 0 {
		sbid, _ := pl.fifo.Pop()
		pl.inFifo.clear(sbid)

		if pl.refcount[sbid] == 0 {
			p.giveBack(pl, sbid)
		}
	}
}

// Verify checks that every refcount matches the ownership bits of the
// rxqs on its pool. It must run on the polling context.
func (p *Poller) Verify() error {
	for i := range p.nic.pools {
		pl := &p.nic.pools[i]

		var counts [MaxSuperbufs]uint32

		check := func(app *Rxq) error {
			if owned, set := app.owned.Load(), app.owns.count(); int(owned) != set {
				return errors.Wrapf(ErrInconsistent, "qid %d rxq owns %d superbufs but counts %d", pl.qid, set, owned)
			}

			app.owns.each(func(sbid uint32) {
				counts[sbid]++
			})

			return nil
		}

		for _, app := range pl.live {
			if err := check(app); err != nil {
				return err
			}
		}

		for _, app := range pl.destroying {
			if err := check(app); err != nil {
				return err
			}
		}

		for sbid, want := range counts {
			if pl.refcount[sbid] != want {
				return errors.Wrapf(ErrInconsistent, "qid %d superbuf %d refcount %d, owners %d", pl.qid, sbid, pl.refcount[sbid], want)
			}
		}
	}

	return nil
}

// Live returns the rxqs currently attached to hardware queue qid.
func (p *Poller) Live(qid int) []*Rxq {
	pl, err := p.nic.pool(qid)
	if err != nil {
		return nil
	}

	return append([]*Rxq(nil), pl.live...)
}

// Refcount returns how many rxqs hold superbuf sbid of queue qid.
func (p *Poller) Refcount(qid int, sbid uint32) uint32 {
	pl, err := p.nic.pool(qid)
	if err != nil || sbid >= MaxSuperbufs {
		return 0
	}

	return pl.refcount[sbid]
}

// InFifo returns how many superbufs of queue qid await delivery or trim.
func (p *Poller) InFifo(qid int) int {
	pl, err := p.nic.pool(qid)
	if err != nil {
		return 0
	}

	return pl.fifo.Readable()
}
