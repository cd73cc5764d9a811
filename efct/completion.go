package efct

import "github.com/pkg/errors"

// txEvent reconciles a completion with the descriptor ring. The device
// reports the count of completed sends, truncated to the sequence width,
// so the ring is replayed from previous until the low bits match.
func (vi *VI) txEvent(q uint64, ev *Event) {
	seq := uint32(TxEventSequence.Get(q))
	start := vi.txs.previous

	var reclaimed uint32

	for vi.txs.previous&TxSequenceMask != seq {
		if vi.txs.previous == vi.txs.added {
			panic(errors.Wrapf(ErrCompletionOverrun, "sequence %d\n%s", seq, vi.dump()))
		}

		span := vi.txq.span(vi.txs.previous)
		vi.txs.ctRemoved += span
		reclaimed += span
		vi.txs.previous++
	}

	n := vi.txs.previous - start
	vi.metrics.completed(n, reclaimed)

	ev.Type = EventTypeTX
	ev.TX = TxEvent{
		Label:    uint8(TxEventLabel.Get(q)),
		Sequence: uint8(seq),
		DescID:   vi.txs.previous,
		Count:    n,
		Flags:    TxFlagCTPIO,
	}
}

// Unbundle writes the caller ids of the sends completed up to ev into ids,
// oldest first, and returns how many it wrote. Call it again with the same
// event if ids filled up. Ids must be unbundled before the descriptor ring
// wraps onto them.
func (vi *VI) Unbundle(ev *Event, ids []RequestID) int {
	if ev.Type != EventTypeTX {
		return 0
	}

	var n int

	for n < len(ids) && int32(ev.TX.DescID-vi.txs.removed) > 0 {
		ids[n] = vi.txq.id(vi.txs.removed)
		vi.txs.removed++
		n++
	}

	return n
}
