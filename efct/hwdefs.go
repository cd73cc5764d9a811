package efct

import "github.com/lab47/efvi/pkg/qword"

// CTPIO transmit geometry.
const (
	// TxAlignment is the boundary every packet in the aperture starts on.
	TxAlignment = 64
	// TxHeaderBytes is the size of the header word preceding each packet.
	TxHeaderBytes = 8
	// ApertureSize is the size of one copy of the CTPIO window.
	ApertureSize = 4096
	// DefaultCTFifoBytes is the transmit FIFO size of the device.
	DefaultCTFifoBytes = ApertureSize
	// TxDescriptorBytes is the size of a descriptor ring entry as the
	// device sizes its ring memory.
	TxDescriptorBytes = 2
)

// CTDisable in the CT_THRESH field makes the device store the whole packet
// before sending it.
const CTDisable = 0xff

// TX header word layout.
var (
	TxHeaderPacketLength  = qword.Field{Name: "PACKET_LENGTH", LBN: 0, Width: 14}
	TxHeaderCTThresh      = qword.Field{Name: "CT_THRESH", LBN: 14, Width: 8}
	TxHeaderTimestampFlag = qword.Field{Name: "TIMESTAMP_FLAG", LBN: 22, Width: 1}
	TxHeaderWarmFlag      = qword.Field{Name: "WARM_FLAG", LBN: 23, Width: 1}
	TxHeaderAction        = qword.Field{Name: "ACTION", LBN: 24, Width: 3}
)

// MaxPacketLength is the largest length the header can describe.
const MaxPacketLength = 1<<14 - 1

// EventBytes is the size of one event queue record.
const EventBytes = qword.Size

// Fields common to every event.
var (
	EventPhase = qword.Field{Name: "PHASE", LBN: 59, Width: 1}
	EventKind  = qword.Field{Name: "TYPE", LBN: 60, Width: 4}
)

// Raw values of the TYPE field.
const (
	EventTypeRXRaw      = 0
	EventTypeTXRaw      = 1
	EventTypeControlRaw = 3
)

// TX completion event layout.
var (
	TxEventPartialTstamp   = qword.Field{Name: "PARTIAL_TSTAMP", LBN: 0, Width: 40}
	TxEventSequence        = qword.Field{Name: "SEQUENCE", LBN: 40, Width: 8}
	TxEventTimestampStatus = qword.Field{Name: "TIMESTAMP_STATUS", LBN: 48, Width: 2}
	TxEventLabel           = qword.Field{Name: "LABEL", LBN: 50, Width: 6}
)

// TxSequenceMask masks a descriptor count down to the width the hardware
// reports.
const TxSequenceMask = 1<<8 - 1

// RX event layout.
var (
	RxEventPktLength    = qword.Field{Name: "PKT_LENGTH", LBN: 0, Width: 14}
	RxEventNextFrameLoc = qword.Field{Name: "NEXT_FRAME_LOC", LBN: 14, Width: 2}
	RxEventSentinel     = qword.Field{Name: "SENTINEL", LBN: 16, Width: 1}
	RxEventRollover     = qword.Field{Name: "ROLLOVER", LBN: 17, Width: 1}
	RxEventL2Class      = qword.Field{Name: "L2_CLASS", LBN: 18, Width: 2}
	RxEventL3Class      = qword.Field{Name: "L3_CLASS", LBN: 20, Width: 2}
	RxEventL4Class      = qword.Field{Name: "L4_CLASS", LBN: 22, Width: 2}
	RxEventLabel        = qword.Field{Name: "LABEL", LBN: 50, Width: 6}
)

// CONTROL event layout.
var ControlEventSubtype = qword.Field{Name: "SUBTYPE", LBN: 53, Width: 6}

type ControlSubtype uint8

const (
	ControlError         ControlSubtype = 1
	ControlFlush         ControlSubtype = 2
	ControlTimeSync      ControlSubtype = 3
	ControlUnsolOverflow ControlSubtype = 4
)

func (c ControlSubtype) String() string {
	switch c {
	case ControlError:
		return "error"
	case ControlFlush:
		return "flush"
	case ControlTimeSync:
		return "time_sync"
	case ControlUnsolOverflow:
		return "unsol_overflow"
	}
	return "unknown"
}

// TxHeader builds the header word for a standard, non-templated send.
func TxHeader(length int, ctThresh uint8, timestamp bool) uint64 {
	var ts uint64
	if timestamp {
		ts = 1
	}

	return qword.Populate(
		qword.Value{Field: TxHeaderPacketLength, V: uint64(length)},
		qword.Value{Field: TxHeaderCTThresh, V: uint64(ctThresh)},
		qword.Value{Field: TxHeaderTimestampFlag, V: ts},
		qword.Value{Field: TxHeaderWarmFlag, V: 0},
		qword.Value{Field: TxHeaderAction, V: 0},
	)
}

// DecodedTxHeader is the parsed form of a header word.
type DecodedTxHeader struct {
	Length    int
	CTThresh  uint8
	Timestamp bool
	Warm      bool
	Action    uint8
}

func DecodeTxHeader(q uint64) DecodedTxHeader {
	return DecodedTxHeader{
		Length:    int(TxHeaderPacketLength.Get(q)),
		CTThresh:  uint8(TxHeaderCTThresh.Get(q)),
		Timestamp: TxHeaderTimestampFlag.Get(q) != 0,
		Warm:      TxHeaderWarmFlag.Get(q) != 0,
		Action:    uint8(TxHeaderAction.Get(q)),
	}
}

// CTThreshold converts a cut-through threshold in bytes to the 64 byte
// units of the header. Thresholds the field can't hold disable cut-through.
func CTThreshold(bytes int) uint8 {
	if bytes < 0 {
		return CTDisable
	}

	units := (bytes + TxAlignment - 1) / TxAlignment
	if units >= CTDisable {
		return CTDisable
	}

	return uint8(units)
}

// PacketSpan is the number of aperture bytes a packet of length bytes
// occupies: header, payload, and padding to TxAlignment.
func PacketSpan(length int) int {
	n := TxHeaderBytes + length
	return (n + TxAlignment - 1) &^ (TxAlignment - 1)
}

// EncodeTxEvent builds a TX completion record, as the device writes it.
func EncodeTxEvent(phase bool, seq uint8, label uint8) uint64 {
	return qword.Populate(
		qword.Value{Field: EventKind, V: EventTypeTXRaw},
		qword.Value{Field: EventPhase, V: b2u(phase)},
		qword.Value{Field: TxEventSequence, V: uint64(seq)},
		qword.Value{Field: TxEventLabel, V: uint64(label)},
	)
}

// EncodeRxEvent builds an RX record.
func EncodeRxEvent(phase bool, pktLen int, sentinel, rollover bool, label uint8) uint64 {
	return qword.Populate(
		qword.Value{Field: EventKind, V: EventTypeRXRaw},
		qword.Value{Field: EventPhase, V: b2u(phase)},
		qword.Value{Field: RxEventPktLength, V: uint64(pktLen)},
		qword.Value{Field: RxEventSentinel, V: b2u(sentinel)},
		qword.Value{Field: RxEventRollover, V: b2u(rollover)},
		qword.Value{Field: RxEventLabel, V: uint64(label)},
	)
}

// EncodeControlEvent builds a CONTROL record.
func EncodeControlEvent(phase bool, sub ControlSubtype) uint64 {
	return qword.Populate(
		qword.Value{Field: EventKind, V: EventTypeControlRaw},
		qword.Value{Field: EventPhase, V: b2u(phase)},
		qword.Value{Field: ControlEventSubtype, V: uint64(sub)},
	)
}

// WithPhase returns the record q carrying the given phase bit.
func WithPhase(q uint64, phase bool) uint64 {
	return EventPhase.Set(q, b2u(phase))
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
