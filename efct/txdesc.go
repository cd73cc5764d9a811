package efct

// RequestID is the caller's identifier for a send. It comes back out of
// Unbundle once the send completes.
type RequestID uint32

// RequestIDMask is recorded for sends that have no caller id.
const RequestIDMask RequestID = 0xffffffff

// descriptorRing records, per send in flight, the aperture span it used
// and the caller's id. Entries are indexed by the free running send count
// masked to the ring size.
type descriptorRing struct {
	mask uint32
	lens []uint16
	ids  []RequestID
}

func newDescriptorRing(size uint32) descriptorRing {
	return descriptorRing{
		mask: size - 1,
		lens: make([]uint16, size),
		ids:  make([]RequestID, size),
	}
}

func (d *descriptorRing) slot(seq uint32) uint32 {
	return seq & d.mask
}

func (d *descriptorRing) store(seq uint32, span int, id RequestID) uint32 {
	i := d.slot(seq)
	d.lens[i] = uint16(span)
	d.ids[i] = id
	return i
}

func (d *descriptorRing) span(seq uint32) uint32 {
	return uint32(d.lens[d.slot(seq)])
}

func (d *descriptorRing) id(seq uint32) RequestID {
	return d.ids[d.slot(seq)]
}

func (d *descriptorRing) size() uint32 {
	return d.mask + 1
}
