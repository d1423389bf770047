package pairing

import "errors"

var (
	// ErrPairingInProgress is returned by Pair while another attempt is
	// unresolved. Attempts are never queued or interleaved.
	ErrPairingInProgress = errors.New("pairing: another pairing attempt is in progress")

	// ErrUnknownPeripheral is returned for addresses discovery has not seen.
	ErrUnknownPeripheral = errors.New("pairing: peripheral not discovered")

	// ErrUnbondFailed is returned when a stale bond could not be removed.
	ErrUnbondFailed = errors.New("pairing: removing existing bond failed")

	// ErrPairingFailed wraps platform errors raised while starting a bond.
	ErrPairingFailed = errors.New("pairing: bond request failed")

	// ErrPairingStopped is returned when StopPairing ends an attempt before
	// the bond was requested.
	ErrPairingStopped = errors.New("pairing: stopped")
)
