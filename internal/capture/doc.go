// Package capture manages the session with the scanner's hardware driver.
//
// The Manager connects to a Driver, opens devices the driver reports as
// Available, reads their properties once they are Ready and keeps the
// persisted scanner record in step with what the hardware and the
// platform Bluetooth layer report:
//
//	Available -> Open()
//	Ready     -> read name, address, battery -> write record (connected) -> scanner.device
//	Gone      -> bonded?  yes -> write record (disconnected) -> scanner.device
//	                      no  -> clear record -> scanner.device (null)
//
// Device property calls complete through a callback. The manager turns
// each call into one awaited result and never has two requests in flight
// on the same device handle.
//
// Scans are published as scanner.scan events and handed to a Router,
// which delivers each one to the single highest-priority listener.
package capture
