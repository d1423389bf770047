package capture

import "errors"

var (
	// ErrBatteryRange is returned when the packed battery value has a
	// maximum that is not above its minimum.
	ErrBatteryRange = errors.New("capture: battery range is empty")

	// ErrUnsupported is returned by drivers for operations the hardware
	// cannot perform.
	ErrUnsupported = errors.New("capture: operation not supported by driver")

	// ErrInvalidName is returned when renaming a scanner to an empty name.
	ErrInvalidName = errors.New("capture: invalid scanner name")

	// ErrNotConnected is returned by drivers when no session is open.
	ErrNotConnected = errors.New("capture: driver not connected")
)
