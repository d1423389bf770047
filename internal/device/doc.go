// Package device provides the Device Registry for scanlink.
//
// The registry holds the Bluetooth peripherals reported during a discovery
// run, keyed by MAC address. It is pure data: the discovery controller
// fills it from platform notifications and the pairing orchestrator looks
// addresses up in it before bonding.
//
// # Ordering
//
// Snapshots preserve first-discovery order. A peripheral reported again
// (new name, bond flag changed) is updated in place:
//
//	reg := device.NewRegistry()
//	reg.Upsert(device.PeripheralRecord{Address: "AA:BB:CC:00:11:22", Name: "S700"})
//	reg.Upsert(device.PeripheralRecord{Address: "AA:BB:CC:00:11:33", Name: "S740"})
//	reg.Upsert(device.PeripheralRecord{Address: "AA:BB:CC:00:11:22", Name: "Socket S700"})
//	reg.Snapshot() // [Socket S700, S740]
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use.
package device
