// Package aperture provides the CTPIO transmit window.
//
// The hardware aperture is mapped twice back to back, so a packet that
// starts near the end of the window can be written contiguously and lands
// at the start of the window. A Window hides whether that aliasing is done
// by the MMU (Map, MapAnonymous) or by masking offsets into a single
// heap buffer (New).
package aperture

import (
	"encoding/binary"
	"math/bits"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	ErrBadSize      = errors.New("aperture size must be a power of two multiple of 8")
	ErrUnaligned    = errors.New("aperture word offset is not 8 byte aligned")
	ErrOutOfRange   = errors.New("aperture offset outside the mapped window")
	ErrWindowClosed = errors.New("aperture window is closed")
)

type Window struct {
	mem  []byte
	size int
	mask int

	unmap func() error
}

func checkSize(size int) error {
	if size < 8 || bits.OnesCount(uint(size)) != 1 {
		return errors.Wrapf(ErrBadSize, "size %d", size)
	}
	return nil
}

// New returns a heap backed window of the given size. Offsets up to twice
// the size alias back into the buffer, like the double mapping would.
func New(size int) (*Window, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}

	// Backed by uint64s so every word store is naturally aligned.
	words := make([]uint64, size/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)

	return &Window{
		mem:  mem,
		size: size,
		mask: size - 1,
	}, nil
}

// Size is the size of one copy of the window.
func (w *Window) Size() int {
	return w.size
}

func (w *Window) index(off int) int {
	if off < 0 || off >= 2*w.size {
		panic(errors.Wrapf(ErrOutOfRange, "offset %d, size %d", off, w.size))
	}
	if off%8 != 0 {
		panic(errors.Wrapf(ErrUnaligned, "offset %d", off))
	}
	return off & w.mask
}

// StoreWord performs a single 64-bit store at off. The value is stored in
// native byte order, so a word loaded from a byte slice with
// binary.NativeEndian lands in the window byte for byte.
func (w *Window) StoreWord(off int, v uint64) {
	i := w.index(off)
	*(*uint64)(unsafe.Pointer(&w.mem[i])) = v
}

// StoreQword stores a little-endian hardware qword at off.
func (w *Window) StoreQword(off int, q uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], q)
	w.StoreWord(off, binary.NativeEndian.Uint64(b[:]))
}

// LoadWord reads the word at off in native byte order.
func (w *Window) LoadWord(off int) uint64 {
	i := w.index(off)
	return *(*uint64)(unsafe.Pointer(&w.mem[i]))
}

// ReadAt copies bytes starting at off, wrapping around the window end. It
// is how the device side consumes what was written.
func (w *Window) ReadAt(dst []byte, off int) {
	for i := range dst {
		dst[i] = w.mem[(off+i)&(w.size-1)]
	}
}

// Close releases the mapping, if any.
func (w *Window) Close() error {
	if w.mem == nil {
		return ErrWindowClosed
	}

	w.mem = nil

	if w.unmap != nil {
		return w.unmap()
	}

	return nil
}
