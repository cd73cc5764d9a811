package efct

import (
	"math/bits"

	"github.com/lab47/efvi/pkg/aperture"
	"github.com/pkg/errors"
)

const (
	DefaultTxqSize = 512
)

// Config describes the resources of one VI. The aperture and event queue
// memory are mapped by the caller.
type Config struct {
	// Aperture is the double mapped CTPIO window.
	Aperture *aperture.Window
	// EventQueue is the event queue memory, a power of two number of
	// EventBytes records.
	EventQueue []byte
	// TxqSize is the number of descriptor ring entries.
	TxqSize uint32
	// CTFifoBytes is how much of the aperture may be in flight at once.
	CTFifoBytes uint32
	// TxTimestamps requests a hardware timestamp for every send.
	TxTimestamps bool

	Metrics   *Metrics
	RxHandler RxEventHandler
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.TxqSize == 0 {
		c.TxqSize = DefaultTxqSize
	}
	if c.CTFifoBytes == 0 {
		c.CTFifoBytes = DefaultCTFifoBytes
	}

	if bits.OnesCount32(c.TxqSize) != 1 {
		return errors.Wrapf(ErrBadTxqSize, "txq size %d", c.TxqSize)
	}

	if c.CTFifoBytes%TxAlignment != 0 || c.CTFifoBytes > ApertureSize {
		return errors.Wrapf(ErrBadFifoSize, "ct fifo bytes %d", c.CTFifoBytes)
	}

	// Every packet costs at least TxAlignment bytes of FIFO, so this bounds
	// the number of sends in flight. The ring has to cover all of them.
	if c.TxqSize < (c.CTFifoBytes+TxHeaderBytes)/TxAlignment {
		return errors.Wrapf(ErrTxqTooSmall, "txq size %d, ct fifo bytes %d", c.TxqSize, c.CTFifoBytes)
	}

	if c.Aperture == nil {
		return ErrNoAperture
	}

	if c.Aperture.Size() != ApertureSize {
		return errors.Wrapf(ErrApertureSize, "window size %d", c.Aperture.Size())
	}

	n := len(c.EventQueue)
	if n < 2*EventBytes || n%EventBytes != 0 || bits.OnesCount(uint(n)) != 1 {
		return errors.Wrapf(ErrBadEventQueue, "event queue bytes %d", n)
	}

	return nil
}
