// Package loopback joins a simulated efct device to a superbuf NIC: every
// packet transmitted through the VI is copied into a superbuf and
// delivered to the rxqs bound on the port, one frame per superbuf.
package loopback

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/lab47/efvi/efct"
	"github.com/lab47/efvi/efct/hwsim"
	ringbuf "github.com/lab47/efvi/pkg/ring_buf"
	"github.com/lab47/efvi/superbuf"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const SuperbufSize = 2048

var ErrFrameTooLong = errors.New("frame does not fit in a superbuf")

type Config struct {
	EvqEntries int
	QID        int
	Label      uint8

	// Registry receives the VI and superbuf counters. May be nil.
	Registry prometheus.Registerer
}

type Port struct {
	log logger.Logger
	qid int

	dev    *hwsim.Device
	vi     *efct.VI
	nic    *superbuf.NIC
	poller *superbuf.Poller

	bufs [superbuf.MaxSuperbufs][]byte
	free *ringbuf.RingBuf[uint32]

	evs []efct.Event
	ids []efct.RequestID

	txframes uint64
	txbytes  uint64
	rxframes uint64
	droprx   uint64
}

func NewPort(log logger.Logger, cfg Config) (*Port, error) {
	if cfg.EvqEntries == 0 {
		cfg.EvqEntries = 512
	}

	dev, err := hwsim.New(cfg.EvqEntries, cfg.Label)
	if err != nil {
		return nil, err
	}

	vcfg := dev.Config()
	vcfg.Metrics = efct.NewMetrics(cfg.Registry)

	vi, err := efct.NewVI(log, vcfg)
	if err != nil {
		return nil, errors.Wrapf(err, "creating vi")
	}

	p := &Port{
		log:  log,
		qid:  cfg.QID,
		dev:  dev,
		vi:   vi,
		free: ringbuf.NewRingBuf[uint32](superbuf.MaxSuperbufs),
		evs:  make([]efct.Event, 64),
		ids:  make([]efct.RequestID, vi.TxqSize()),
	}

	p.nic = superbuf.NewNIC(log, p, superbuf.NewMetrics(cfg.Registry))

	p.poller, err = p.nic.Poller()
	if err != nil {
		return nil, err
	}

	for i := range p.bufs {
		p.bufs[i] = make([]byte, 0, SuperbufSize)
		p.free.Push(uint32(i))
	}

	return p, nil
}

// VI is the transmit side of the port.
func (p *Port) VI() *efct.VI {
	return p.vi
}

// Bind attaches a new rxq to the port's hardware queue. It may be called
// from any goroutine.
func (p *Port) Bind(cfg superbuf.RxqConfig) (*superbuf.Rxq, error) {
	return p.nic.Bind(p.qid, cfg)
}

// Free tears down an rxq returned by Bind.
func (p *Port) Free(rxq *superbuf.Rxq, freer superbuf.FreeFunc) error {
	return p.nic.Free(rxq, freer)
}

// Frame returns the frame held in a superbuf delivered to an rxq. It is
// valid until the rxq releases the superbuf.
func (p *Port) Frame(sbid uint32) []byte {
	return p.bufs[sbid]
}

// ReturnSuperbuf puts a superbuf back on the free list once no rxq
// holds it.
func (p *Port) ReturnSuperbuf(qid int, sbid uint32) {
	p.bufs[sbid] = p.bufs[sbid][:0]
	p.free.Push(sbid)
}

// Transmit sends frame through the VI. It returns efct.ErrAgain when the
// aperture is full; Poll makes room.
func (p *Port) Transmit(frame []byte, id efct.RequestID) error {
	if len(frame) > SuperbufSize {
		return errors.Wrapf(ErrFrameTooLong, "frame of %d bytes", len(frame))
	}

	if err := p.vi.Transmit(frame, id); err != nil {
		return err
	}

	p.txframes++
	p.txbytes += uint64(len(frame))

	return nil
}

// Poll moves transmitted packets through the device, reports completed
// sends to done and runs the superbuf protocol. It returns the number of
// completions reported.
func (p *Port) Poll(done func(efct.RequestID)) int {
	for _, pkt := range p.dev.Drain(p.vi.Stats().CTAdded) {
		p.receive(pkt.Data)
	}

	if pending := p.dev.Pending(); pending > 0 {
		if err := p.dev.Complete(int(pending)); err != nil {
			p.log.Error("error completing sends", "error", err)
		}
	}

	var completed int

	n := p.vi.Poll(p.evs)
	for i := range p.evs[:n] {
		ev := &p.evs[i]
		if ev.Type != efct.EventTypeTX {
			continue
		}

		cnt := p.vi.Unbundle(ev, p.ids)
		for _, id := range p.ids[:cnt] {
			if done != nil {
				done(id)
			}
		}

		completed += cnt
	}

	p.poller.Poll()

	return completed
}

func (p *Port) receive(data []byte) {
	sbid, ok := p.free.Pop()
	if !ok {
		p.droprx++
		p.log.Trace("no free superbuf, dropping frame", "len", len(data))
		return
	}

	p.bufs[sbid] = append(p.bufs[sbid][:0], data...)
	p.rxframes++

	if err := p.poller.SuperbufArrived(p.qid, sbid); err != nil {
		p.log.Error("error queueing superbuf", "error", err, "superbuf", sbid)
	}
}

// Verify checks superbuf ownership. Call it between Polls.
func (p *Port) Verify() error {
	return p.poller.Verify()
}

type Stats struct {
	VI efct.Stats

	TxFrames uint64
	TxBytes  uint64
	RxFrames uint64
	DropRx   uint64

	FreeSuperbufs int
	InFifo        int
}

func (p *Port) Stats() Stats {
	return Stats{
		VI:            p.vi.Stats(),
		TxFrames:      p.txframes,
		TxBytes:       p.txbytes,
		RxFrames:      p.rxframes,
		DropRx:        p.droprx,
		FreeSuperbufs: p.free.Readable(),
		InFifo:        p.poller.InFifo(p.qid),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("tx=%s frames (%s) rx=%s drop=%s free-superbufs=%d in-fifo=%d [%s]",
		humanize.Comma(int64(s.TxFrames)), humanize.IBytes(s.TxBytes),
		humanize.Comma(int64(s.RxFrames)), humanize.Comma(int64(s.DropRx)),
		s.FreeSuperbufs, s.InFifo, s.VI)
}
