// Package pairing drives the Bluetooth bond handshake for one scanner at a
// time.
//
// # State Machine
//
//	Idle ──Pair──▶ Bonding ──▶ Bonded ───────┐
//	                  │                      ├──▶ Idle
//	                  └──────▶ Disconnected ─┘
//
// Pair on an address that is already bonded first removes the stale bond
// and waits (UnbondTimeout, 10s by default) for the platform to confirm.
// If that fails the attempt is reported as disconnected and no new bond is
// requested. Bond notifications for other addresses are ignored, and a
// bond that never resolves ends as disconnected after BondTimeout.
//
// Only one attempt is allowed at a time: Pair returns ErrPairingInProgress
// until the current attempt reaches a terminal state or StopPairing is
// called.
package pairing
