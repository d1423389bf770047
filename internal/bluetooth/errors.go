package bluetooth

import "errors"

var (
	// ErrRadioOff is returned by StartDiscovery while the adapter is powered down.
	ErrRadioOff = errors.New("bluetooth: radio is off")

	// ErrUnknownDevice is returned when an address has no platform object.
	ErrUnknownDevice = errors.New("bluetooth: unknown device")

	// ErrInvalidAddress is returned for addresses that are not AA:BB:CC:DD:EE:FF.
	ErrInvalidAddress = errors.New("bluetooth: invalid address")

	// ErrClosed is returned after the platform has been closed.
	ErrClosed = errors.New("bluetooth: closed")
)
