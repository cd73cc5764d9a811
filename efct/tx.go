package efct

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// TransmitSpaceBytes is how many aperture bytes may still be written
// before completions have to reclaim some.
func (vi *VI) TransmitSpaceBytes() int {
	return int(vi.cfg.CTFifoBytes) - int(vi.txs.ctAdded-vi.txs.ctRemoved)
}

// HasSpace reports whether a packet of length bytes fits in the aperture
// now, counting its header and padding.
func (vi *VI) HasSpace(length int) bool {
	return vi.TransmitSpaceBytes() >= PacketSpan(length)
}

func (vi *VI) checkLength(length int) error {
	if length < 0 || length > MaxPacketLength || PacketSpan(length) > int(vi.cfg.CTFifoBytes) {
		return errors.Wrapf(ErrPacketTooLong, "length %d", length)
	}
	return nil
}

// TxState is one packet being written into the aperture. It is created by
// BeginSend and must be finished with Finalize before the next send.
type TxState struct {
	vi    *VI
	start int
	pos   int

	// Up to 7 bytes left over from a block that didn't fill a word.
	tail    [8]byte
	tailLen int
}

// BeginSend starts a packet at the current write position of the
// aperture. The caller must have checked HasSpace.
func (vi *VI) BeginSend() TxState {
	off := int(vi.txs.ctAdded % ApertureSize)
	if off%TxAlignment != 0 {
		panic(errors.Wrapf(ErrApertureMisaligned, "offset %d\n%s", off, vi.dump()))
	}

	return TxState{
		vi:    vi,
		start: off,
		pos:   off,
	}
}

func (tx *TxState) word(v uint64) {
	tx.vi.ap.StoreWord(tx.pos, v)
	tx.pos += 8
}

// WriteHeader writes the header word. It must be the first thing written.
func (tx *TxState) WriteHeader(length int, ctThresh uint8, timestamp bool) {
	tx.vi.ap.StoreQword(tx.pos, TxHeader(length, ctThresh, timestamp))
	tx.pos += 8
}

// WriteBlock streams b into the aperture. Bytes that don't fill a whole
// word are held back and joined with the next block, so a packet split
// over several blocks produces the same aperture contents as one block.
func (tx *TxState) WriteBlock(b []byte) {
	if tx.tailLen != 0 {
		n := copy(tx.tail[tx.tailLen:], b)
		tx.tailLen += n
		b = b[n:]

		if tx.tailLen == 8 {
			tx.word(binary.NativeEndian.Uint64(tx.tail[:]))
			tx.tail = [8]byte{}
			tx.tailLen = 0
		}
	}

	for len(b) >= 8 {
		tx.word(binary.NativeEndian.Uint64(b))
		b = b[8:]
	}

	if len(b) > 0 {
		tx.tailLen = copy(tx.tail[:], b)
	}
}

// Finalize flushes leftover bytes, pads the packet to TxAlignment and
// records it in the descriptor ring. It returns the descriptor slot.
func (tx *TxState) Finalize(id RequestID) uint32 {
	vi := tx.vi

	if tx.tailLen != 0 {
		tx.word(binary.NativeEndian.Uint64(tx.tail[:]))
		tx.tail = [8]byte{}
		tx.tailLen = 0
	}

	for tx.pos%TxAlignment != 0 {
		tx.word(0)
	}

	span := tx.pos - tx.start

	slot := vi.txq.store(vi.txs.added, span, id)
	vi.txs.ctAdded += uint32(span)
	vi.txs.added++

	return slot
}

// Transmit sends buf as one packet. It returns ErrAgain without touching
// anything if the aperture is too full.
func (vi *VI) Transmit(buf []byte, id RequestID) error {
	if err := vi.checkLength(len(buf)); err != nil {
		return err
	}

	if !vi.HasSpace(len(buf)) {
		vi.metrics.again()
		return ErrAgain
	}

	tx := vi.BeginSend()
	tx.WriteHeader(len(buf), CTDisable, vi.cfg.TxTimestamps)
	tx.WriteBlock(buf)
	slot := tx.Finalize(id)

	vi.metrics.sent(len(buf))

	if vi.log.IsTrace() {
		vi.log.Trace("ctpio send", "len", len(buf), "slot", slot, "id", id)
	}

	return nil
}

func iovLen(iov [][]byte) int {
	var n int
	for _, b := range iov {
		n += len(b)
	}
	return n
}

// Transmitv sends the concatenation of iov as one packet.
func (vi *VI) Transmitv(iov [][]byte, id RequestID) error {
	length := iovLen(iov)

	if err := vi.checkLength(length); err != nil {
		return err
	}

	if !vi.HasSpace(length) {
		vi.metrics.again()
		return ErrAgain
	}

	tx := vi.BeginSend()
	tx.WriteHeader(length, CTDisable, vi.cfg.TxTimestamps)
	for _, b := range iov {
		tx.WriteBlock(b)
	}
	slot := tx.Finalize(id)

	vi.metrics.sent(length)

	if vi.log.IsTrace() {
		vi.log.Trace("ctpio sendv", "len", length, "frags", len(iov), "slot", slot, "id", id)
	}

	return nil
}

// TransmitvInit is Transmitv; efct has no separate initial post.
func (vi *VI) TransmitvInit(iov [][]byte, id RequestID) error {
	return vi.Transmitv(iov, id)
}

// TransmitvCTPIO writes a frame of frameLen bytes with cut-through
// starting after thresholdBytes. It can't fail, so the caller must have
// checked HasSpace(frameLen) and iov must hold exactly frameLen bytes;
// either mistake panics before anything is written. No caller id is
// recorded.
func (vi *VI) TransmitvCTPIO(frameLen int, iov [][]byte, thresholdBytes int) {
	if n := iovLen(iov); frameLen < 0 || frameLen > MaxPacketLength || n != frameLen {
		panic(errors.Wrapf(ErrFrameLength, "frame length %d, iov holds %d bytes", frameLen, n))
	}

	if !vi.HasSpace(frameLen) {
		panic(errors.Wrapf(ErrAgain, "ctpio send of %d bytes without space\n%s", frameLen, vi.dump()))
	}

	tx := vi.BeginSend()
	tx.WriteHeader(frameLen, CTThreshold(thresholdBytes), vi.cfg.TxTimestamps)
	for _, b := range iov {
		tx.WriteBlock(b)
	}
	tx.Finalize(RequestIDMask)

	vi.metrics.sent(frameLen)
}

// TransmitvCTPIOCopy is TransmitvCTPIO. The fallback buffer other
// architectures need is never used here.
func (vi *VI) TransmitvCTPIOCopy(frameLen int, iov [][]byte, thresholdBytes int, fallback []byte) {
	vi.TransmitvCTPIO(frameLen, iov, thresholdBytes)
}

// TransmitPush does nothing; CTPIO writes are already visible to the
// device.
func (vi *VI) TransmitPush() {}
