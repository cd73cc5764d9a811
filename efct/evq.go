package efct

import (
	"fmt"

	"github.com/lab47/efvi/pkg/qword"
	"github.com/pkg/errors"
)

type EventType uint8

const (
	EventTypeNone EventType = iota
	EventTypeTX
	EventTypeRX
	EventTypeControl
	EventTypeUnknown
)

func (t EventType) String() string {
	switch t {
	case EventTypeNone:
		return "none"
	case EventTypeTX:
		return "tx"
	case EventTypeRX:
		return "rx"
	case EventTypeControl:
		return "control"
	}
	return "unknown"
}

type TxFlags uint8

const (
	TxFlagCTPIO TxFlags = 1 << iota
)

// TxEvent reports completed sends. DescID is the completed descriptor
// count after this event; Count sends completed with it.
type TxEvent struct {
	Label    uint8
	Sequence uint8
	DescID   uint32
	Count    uint32
	Flags    TxFlags
}

type RxEvent struct {
	Label        uint8
	Length       int
	NextFrameLoc uint8
	Sentinel     bool
	Rollover     bool
	L2Class      uint8
	L3Class      uint8
	L4Class      uint8
}

type ControlEvent struct {
	Subtype ControlSubtype
}

// Event is a decoded event queue record. Raw holds the record as read.
type Event struct {
	Type    EventType
	TX      TxEvent
	RX      RxEvent
	Control ControlEvent
	Raw     uint64
}

// RxEventHandler receives RX and CONTROL events. Turning them into
// received packets belongs to the receive side.
type RxEventHandler interface {
	HandleRxEvent(ev *Event)
}

func (vi *VI) eventAt(ptr uint32) uint64 {
	off := ptr & vi.evqMask
	return qword.Load(vi.evq[off : off+EventBytes])
}

// expectedPhase is the phase the device writes at ptr. It flips every
// time the pointer wraps the ring.
func (vi *VI) expectedPhase(ptr uint32) uint64 {
	if ptr&(vi.evqMask+1) != 0 {
		return 1
	}
	return 0
}

// Poll decodes up to len(evs) new events and returns how many it wrote.
// It stops at the first record that the device hasn't written yet and
// never blocks.
func (vi *VI) Poll(evs []Event) int {
	// If the device got a whole revolution ahead, the record we consumed
	// last has been overwritten with the next phase.
	last := vi.evqPtr - EventBytes
	if q := vi.eventAt(last); EventPhase.Get(q) != vi.expectedPhase(last) {
		panic(errors.Wrapf(ErrEventQueueOverflow, "evq_ptr %d, event %#016x\n%s", vi.evqPtr, q, vi.dump()))
	}

	var i int

	for ; i < len(evs); i, vi.evqPtr = i+1, vi.evqPtr+EventBytes {
		q := vi.eventAt(vi.evqPtr)

		if EventPhase.Get(q) != vi.expectedPhase(vi.evqPtr) {
			break
		}

		ev := &evs[i]
		*ev = Event{Raw: q}

		switch EventKind.Get(q) {
		case EventTypeRXRaw:
			decodeRxEvent(q, ev)
			if vi.rx != nil {
				vi.rx.HandleRxEvent(ev)
			}
		case EventTypeTXRaw:
			vi.txEvent(q, ev)
		case EventTypeControlRaw:
			ev.Type = EventTypeControl
			ev.Control.Subtype = ControlSubtype(ControlEventSubtype.Get(q))
			if vi.rx != nil {
				vi.rx.HandleRxEvent(ev)
			}
		default:
			ev.Type = EventTypeUnknown
			vi.log.Warn("skipping unknown event", "event", fmt.Sprintf("%#016x", q), "evq-ptr", vi.evqPtr)
		}

		vi.metrics.event(ev.Type)
	}

	return i
}

func decodeRxEvent(q uint64, ev *Event) {
	ev.Type = EventTypeRX
	ev.RX = RxEvent{
		Label:        uint8(RxEventLabel.Get(q)),
		Length:       int(RxEventPktLength.Get(q)),
		NextFrameLoc: uint8(RxEventNextFrameLoc.Get(q)),
		Sentinel:     RxEventSentinel.Get(q) != 0,
		Rollover:     RxEventRollover.Get(q) != 0,
		L2Class:      uint8(RxEventL2Class.Get(q)),
		L3Class:      uint8(RxEventL3Class.Get(q)),
		L4Class:      uint8(RxEventL4Class.Get(q)),
	}
}
