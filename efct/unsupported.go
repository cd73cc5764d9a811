package efct

// Templated PIO, alternative queues and remote memcpy don't exist on
// efct. These report ErrNotSupported and change nothing.

func (vi *VI) TransmitPIO(offset, length int, id RequestID) error {
	return ErrNotSupported
}

func (vi *VI) TransmitCopyPIO(offset int, src []byte, id RequestID) error {
	return ErrNotSupported
}

func (vi *VI) TransmitPIOWarm() {}

func (vi *VI) TransmitCopyPIOWarm(offset int, src []byte) {}

func (vi *VI) TransmitAltSelect(altID uint) error {
	return ErrNotSupported
}

func (vi *VI) TransmitAltSelectDefault() error {
	return ErrNotSupported
}

func (vi *VI) TransmitAltStop(altID uint) error {
	return ErrNotSupported
}

func (vi *VI) TransmitAltGo(altID uint) error {
	return ErrNotSupported
}

func (vi *VI) TransmitAltDiscard(altID uint) error {
	return ErrNotSupported
}

// RemoteIOVec names a region of remote memory for TransmitMemcpy.
type RemoteIOVec struct {
	Addr  uint64
	Len   int
	Flags uint32
}

func (vi *VI) TransmitMemcpy(dst, src []RemoteIOVec) (int, error) {
	return 0, ErrNotSupported
}

func (vi *VI) TransmitMemcpySync(id RequestID) error {
	return ErrNotSupported
}

// ReceiveInit posts a receive buffer. Receive buffers on efct are
// superbufs owned by the kernel side, so this isn't available.
func (vi *VI) ReceiveInit(addr uint64, id RequestID) error {
	return ErrNotImplemented
}

func (vi *VI) ReceivePush() {}

// Interrupt priming and event timers are not used by efct.

func (vi *VI) EventqPrime() {}

func (vi *VI) EventqTimerPrime(v uint) {}

func (vi *VI) EventqTimerRun(v uint) {}

func (vi *VI) EventqTimerClear() {}

func (vi *VI) EventqTimerZero() {}
