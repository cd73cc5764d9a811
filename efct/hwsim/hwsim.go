// Package hwsim plays the device side of an efct VI: it consumes packets
// written into the CTPIO aperture and writes events into the event queue
// with the phase bit the device would use.
package hwsim

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lab47/efvi/efct"
	"github.com/lab47/efvi/pkg/aperture"
	"github.com/lab47/efvi/pkg/qword"
	"github.com/pkg/errors"
)

var ErrNothingToComplete = errors.New("no consumed packets waiting for completion")

type Device struct {
	Aperture   *aperture.Window
	EventQueue []byte

	label uint8

	rdOff     uint32 // aperture bytes consumed
	consumed  uint32 // packets consumed
	completed uint32 // packets completed

	evqMask uint32
	evqPtr  uint32
}

// New creates a device with an event queue of evqEntries records.
func New(evqEntries int, label uint8) (*Device, error) {
	ap, err := aperture.New(efct.ApertureSize)
	if err != nil {
		return nil, err
	}

	evq := make([]byte, evqEntries*efct.EventBytes)

	return &Device{
		Aperture:   ap,
		EventQueue: evq,
		label:      label,
		evqMask:    uint32(len(evq)) - 1,
		evqPtr:     uint32(len(evq)),
	}, nil
}

// Config returns a VI config wired to the device memory.
func (d *Device) Config() efct.Config {
	return efct.Config{
		Aperture:   d.Aperture,
		EventQueue: d.EventQueue,
	}
}

// Packet is one packet as the device read it from the aperture.
type Packet struct {
	Header efct.DecodedTxHeader
	Raw    []byte // header, payload and padding
	Data   []byte
}

// Frame decodes the packet payload as an ethernet frame.
func (p *Packet) Frame() gopacket.Packet {
	return gopacket.NewPacket(p.Data, layers.LayerTypeEthernet, gopacket.Default)
}

// Drain consumes every packet written up to ctAdded, the VI's count of
// aperture bytes written.
func (d *Device) Drain(ctAdded uint32) []Packet {
	var pkts []Packet

	for d.rdOff != ctAdded {
		off := int(d.rdOff % efct.ApertureSize)

		var hdr [efct.TxHeaderBytes]byte
		d.Aperture.ReadAt(hdr[:], off)

		h := efct.DecodeTxHeader(qword.Load(hdr[:]))
		span := efct.PacketSpan(h.Length)

		raw := make([]byte, span)
		d.Aperture.ReadAt(raw, off)

		pkts = append(pkts, Packet{
			Header: h,
			Raw:    raw,
			Data:   raw[efct.TxHeaderBytes : efct.TxHeaderBytes+h.Length],
		})

		d.rdOff += uint32(span)
		d.consumed++
	}

	return pkts
}

// Pending is the number of consumed packets not yet completed.
func (d *Device) Pending() uint32 {
	return d.consumed - d.completed
}

// Complete reports n consumed packets as sent with a single event.
func (d *Device) Complete(n int) error {
	if n <= 0 || uint32(n) > d.Pending() {
		return errors.Wrapf(ErrNothingToComplete, "complete %d, pending %d", n, d.Pending())
	}

	d.complete(uint32(n))

	return nil
}

func (d *Device) complete(n uint32) {
	d.completed += n
	d.Post(efct.EncodeTxEvent(false, uint8(d.completed&efct.TxSequenceMask), d.label))
}

// CompleteEach reports every pending packet with its own event.
func (d *Device) CompleteEach() int {
	var n int
	for ; d.Pending() > 0; n++ {
		d.complete(1)
	}
	return n
}

// CompleteRaw posts a completion carrying an arbitrary sequence number,
// for exercising protocol violations.
func (d *Device) CompleteRaw(seq uint8) {
	d.Post(efct.EncodeTxEvent(false, seq, d.label))
}

func (d *Device) phase(ptr uint32) bool {
	return ptr&(d.evqMask+1) != 0
}

// Post writes the record q at the device's event pointer with the right
// phase and advances the pointer.
func (d *Device) Post(q uint64) {
	off := d.evqPtr & d.evqMask
	qword.Store(d.EventQueue[off:off+efct.EventBytes], efct.WithPhase(q, d.phase(d.evqPtr)))
	d.evqPtr += efct.EventBytes
}

// Skip advances the device's event pointer without the consumer knowing,
// as if events had been written and lost.
func (d *Device) Skip(records int) {
	for i := 0; i < records; i++ {
		d.Post(efct.EncodeControlEvent(false, efct.ControlUnsolOverflow))
	}
}
