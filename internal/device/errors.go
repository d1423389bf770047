package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrPeripheralNotFound) {
//	    // handle not found case
//	}
var (
	// ErrPeripheralNotFound is returned when an address has not been discovered.
	ErrPeripheralNotFound = errors.New("device: peripheral not found")

	// ErrInvalidRecord is returned when a record has no address.
	ErrInvalidRecord = errors.New("device: invalid record")
)
