// Package bluez implements bluetooth.Platform against BlueZ over the
// system D-Bus.
//
// Adapter1 drives radio power and discovery, Device1.Pair and
// Adapter1.RemoveDevice drive bonding. Notifications come from
// PropertiesChanged (Powered, Discovering, Paired, RSSI) and the object
// manager InterfacesAdded/InterfacesRemoved signals.
//
// A pairing agent must already be registered on the host (bluetoothd's
// default agent or bt-agent) for devices that need confirmation.
package bluez
