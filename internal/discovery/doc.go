// Package discovery runs Bluetooth inquiry scans and publishes the
// peripherals found.
//
// The Controller subscribes to the platform's device-found,
// discovery-started/finished and radio-state notifications, records
// peripherals in a device.Registry and publishes the filtered snapshot as
// a discovery.devices event after every add or update. Bonded peripherals
// and peripherals whose name does not start with the filter prefix are
// left out of snapshots.
//
// A radio that stays off is reported as StatusSearching, never as an
// error.
package discovery
