package superbuf

import "github.com/pkg/errors"

var (
	ErrBadQueue        = errors.New("hardware rxq id out of range")
	ErrBadSuperbuf     = errors.New("superbuf id out of range")
	ErrBadMaxAllowed   = errors.New("max allowed superbufs out of range")
	ErrAlreadyFreed    = errors.New("rxq already freed")
	ErrPollerTaken     = errors.New("nic poller already taken")
	ErrInconsistent    = errors.New("superbuf ownership inconsistent")
	ErrSuperbufInUse   = errors.New("hardware delivered a superbuf that is still in use")
	ErrDeliveryOverrun = errors.New("delivery fifo overrun")
)
