package efct

import "github.com/pkg/errors"

var (
	// ErrAgain means there is not enough aperture space for the send right
	// now. Nothing was written; poll for completions and retry.
	ErrAgain = errors.New("not enough transmit space, try again")

	ErrNotSupported   = errors.New("operation not supported on efct")
	ErrNotImplemented = errors.New("operation not implemented on efct")

	ErrPacketTooLong = errors.New("packet longer than the header can describe")

	ErrBadTxqSize    = errors.New("txq size must be a non-zero power of two")
	ErrTxqTooSmall   = errors.New("txq too small for the packets the CT FIFO can hold")
	ErrBadFifoSize   = errors.New("ct fifo bytes must be a positive multiple of the tx alignment no larger than the aperture")
	ErrBadEventQueue = errors.New("event queue must be a power of two number of records")
	ErrNoAperture    = errors.New("no aperture window configured")
	ErrApertureSize  = errors.New("aperture window size does not match the device aperture")
)

// Protocol violations. These are never returned; the datapath panics with
// them because the rings can't be trusted afterwards.
var (
	ErrEventQueueOverflow = errors.New("event queue overflow")
	ErrCompletionOverrun  = errors.New("tx completion beyond posted descriptors")
	ErrApertureMisaligned = errors.New("ct_added is not aligned to the tx alignment")
	ErrFrameLength        = errors.New("ctpio frame length does not match the bytes given")
)
