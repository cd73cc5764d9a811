//go:build linux

package aperture

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Map maps size bytes of fd at offset twice, back to back, and returns a
// window over the 2*size region. This is how the device aperture is
// exposed to the transmit path.
func Map(fd int, offset int64, size int) (*Window, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}

	if size%unix.Getpagesize() != 0 {
		return nil, errors.Wrapf(ErrBadSize, "size %d is not page aligned", size)
	}

	// Reserve the full range first so the two halves are adjacent.
	base, err := unix.MmapPtr(-1, 0, nil, uintptr(2*size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrapf(err, "reserving aperture range")
	}

	for i := 0; i < 2; i++ {
		_, err := unix.MmapPtr(fd, offset, unsafe.Add(base, i*size), uintptr(size),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED|unix.MAP_FIXED)
		if err != nil {
			if uerr := unix.MunmapPtr(base, uintptr(2*size)); uerr != nil {
				return nil, errors.Wrapf(err, "mapping aperture copy %d (releasing reservation: %v)", i, uerr)
			}
			return nil, errors.Wrapf(err, "mapping aperture copy %d", i)
		}
	}

	mem := unsafe.Slice((*byte)(base), 2*size)

	return &Window{
		mem:  mem,
		size: size,
		mask: 2*size - 1,
		unmap: func() error {
			return unix.MunmapPtr(base, uintptr(2*size))
		},
	}, nil
}

// MapAnonymous double maps a fresh memfd. It stands in for the device
// aperture when there is no device.
func MapAnonymous(size int) (*Window, error) {
	fd, err := unix.MemfdCreate("ctpio-aperture", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "creating memfd")
	}

	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, errors.Wrapf(err, "sizing memfd")
	}

	return Map(fd, 0, size)
}
