package scanner

import "errors"

var (
	// ErrInvalidRecord is returned when writing a record without an address.
	ErrInvalidRecord = errors.New("scanner: invalid record")

	// ErrInvalidBatteryLevel is returned for levels below the -1 sentinel.
	ErrInvalidBatteryLevel = errors.New("scanner: invalid battery level")
)
