// Package efct implements the user level datapath of an EFCT virtual
// interface: CTPIO transmit into the device aperture, event queue polling
// and transmit completion tracking.
//
// A VI is not safe for concurrent use. Sends and polls on one VI must be
// serialized by the caller.
package efct

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/lab47/efvi/pkg/aperture"
	"github.com/lab47/lsvd/logger"
)

type txqState struct {
	added    uint32 // descriptors posted
	previous uint32 // descriptors completed, the next expected hw sequence
	removed  uint32 // descriptors handed back through Unbundle

	ctAdded   uint32 // aperture bytes written
	ctRemoved uint32 // aperture bytes reclaimed
}

type VI struct {
	log logger.Logger
	cfg Config

	ap  *aperture.Window
	txq descriptorRing
	txs txqState

	evq     []byte
	evqMask uint32
	evqPtr  uint32

	metrics *Metrics
	rx      RxEventHandler
}

func NewVI(log logger.Logger, cfg Config) (*VI, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	vi := &VI{
		log:     log,
		cfg:     cfg,
		ap:      cfg.Aperture,
		txq:     newDescriptorRing(cfg.TxqSize),
		evq:     cfg.EventQueue,
		evqMask: uint32(len(cfg.EventQueue)) - 1,
		metrics: cfg.Metrics,
		rx:      cfg.RxHandler,
	}

	// Start one revolution in, so the first pass over zeroed memory
	// expects phase 1 and the record behind the pointer reads as stale.
	vi.evqPtr = uint32(len(cfg.EventQueue))

	log.Info("efct vi initialised",
		"txq-size", cfg.TxqSize,
		"ct-fifo-bytes", cfg.CTFifoBytes,
		"evq-entries", len(cfg.EventQueue)/EventBytes,
	)

	return vi, nil
}

// TxqSize is the number of descriptor ring entries.
func (vi *VI) TxqSize() uint32 {
	return vi.txq.size()
}

// Stats is a snapshot of the VI cursors.
type Stats struct {
	Added     uint32
	Previous  uint32
	Removed   uint32
	CTAdded   uint32
	CTRemoved uint32
	FreeBytes int
	EvqPtr    uint32
}

// InFlight is the number of sends posted but not yet completed.
func (s Stats) InFlight() uint32 {
	return s.Added - s.Previous
}

func (s Stats) String() string {
	return fmt.Sprintf("added=%d completed=%d inflight=%d ct_added=%s ct_removed=%s free=%s evq_ptr=%d",
		s.Added, s.Previous, s.InFlight(),
		humanize.IBytes(uint64(s.CTAdded)),
		humanize.IBytes(uint64(s.CTRemoved)),
		humanize.IBytes(uint64(s.FreeBytes)),
		s.EvqPtr,
	)
}

func (vi *VI) Stats() Stats {
	return Stats{
		Added:     vi.txs.added,
		Previous:  vi.txs.previous,
		Removed:   vi.txs.removed,
		CTAdded:   vi.txs.ctAdded,
		CTRemoved: vi.txs.ctRemoved,
		FreeBytes: vi.TransmitSpaceBytes(),
		EvqPtr:    vi.evqPtr,
	}
}

// dump renders the VI cursors for protocol violation panics.
func (vi *VI) dump() string {
	return spew.Sdump(vi.Stats())
}
