// Package bluetooth defines the host radio contract scanlink depends on.
//
// Platform is what the discovery controller and the pairing orchestrator
// talk to: radio power, discovery, bond management and a notification
// stream. The bluez subpackage implements it over D-Bus; bluetoothtest
// provides a scriptable fake.
//
// Notifications are delivered through Subscribe. Each Subscription is
// released with Unsubscribe, which is idempotent, so callers can defer it
// on every exit path.
package bluetooth
