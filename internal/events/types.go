package events

import (
	"time"

	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/scanner"
)

// Event types published by scanlink components.
const (
	TypeDiscoveryDevices   = "discovery.devices"
	TypeDiscoveryScanState = "discovery.scan_state"
	TypeRadioState         = "radio.state"
	TypePairingState       = "pairing.state"
	TypeScannerScan        = "scanner.scan"
	TypeScannerDevice      = "scanner.device"
	TypeScannerError       = "scanner.driver_error"
)

// Types lists every event type, in a stable order.
var Types = []string{
	TypeDiscoveryDevices,
	TypeDiscoveryScanState,
	TypeRadioState,
	TypePairingState,
	TypeScannerScan,
	TypeScannerDevice,
	TypeScannerError,
}

// Event is one upward notification.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Publisher is implemented by Bus. Components depend on this rather than
// on the bus itself.
type Publisher interface {
	Publish(eventType string, payload any)
}

// DevicesPayload is the filtered discovery snapshot.
type DevicesPayload struct {
	Devices []device.PeripheralRecord `json:"devices"`
}

// ScanStatePayload reports whether the platform is scanning.
type ScanStatePayload struct {
	Discovering bool `json:"discovering"`
}

// RadioStatePayload reports radio power.
type RadioStatePayload struct {
	Enabled bool `json:"enabled"`
}

// PairingPayload reports a pairing state change for one attempt.
type PairingPayload struct {
	Address   string `json:"address"`
	State     string `json:"state"`
	AttemptID string `json:"attempt_id"`
}

// ScanPayload is one decoded barcode. ID and Name identify the symbology
// or data source as reported by the driver.
type ScanPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// DevicePayload carries the current scanner, or a nil Scanner when no
// scanner is paired.
type DevicePayload struct {
	Scanner *scanner.Record `json:"scanner"`
}

// DriverErrorPayload is a transient capture driver error.
type DriverErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
