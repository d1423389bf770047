package capture

import (
	"context"
	"fmt"
)

// DeviceState mirrors the driver's lifecycle for an attached scanner.
// Ready is only reachable after Available; Gone is reachable from any
// state.
type DeviceState int

const (
	DeviceUnavailable DeviceState = iota
	DeviceAvailable
	DeviceReady
	DeviceGone
)

func (s DeviceState) String() string {
	switch s {
	case DeviceUnavailable:
		return "unavailable"
	case DeviceAvailable:
		return "available"
	case DeviceReady:
		return "ready"
	case DeviceGone:
		return "gone"
	default:
		return fmt.Sprintf("DeviceState(%d)", int(s))
	}
}

// ConnectionState is the state of the session with the driver. Only
// ConnReady matters outside this package.
type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnReady
	ConnDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReady:
		return "ready"
	case ConnDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// PropertyID names a device property.
type PropertyID int

const (
	PropertyFriendlyName PropertyID = iota + 1
	PropertyBluetoothAddress
	PropertyBatteryLevel
)

func (p PropertyID) String() string {
	switch p {
	case PropertyFriendlyName:
		return "friendly_name"
	case PropertyBluetoothAddress:
		return "bluetooth_address"
	case PropertyBatteryLevel:
		return "battery_level"
	default:
		return fmt.Sprintf("PropertyID(%d)", int(p))
	}
}

// Property is a device property value. Which field is meaningful depends
// on ID: String for the friendly name, Bytes for the Bluetooth address
// and Uint for the packed battery level.
type Property struct {
	ID     PropertyID
	String string
	Bytes  []int
	Uint   uint32
}

// ScanData is one decoded scan as delivered by the driver.
type ScanData struct {
	SourceID   int
	SourceName string
	Data       string
}

// Device is a scanner handle owned by the driver.
//
// GetProperty and SetProperty complete by calling done exactly once,
// possibly on another goroutine.
type Device interface {
	// ID identifies the handle for the lifetime of the driver session.
	ID() string

	// Open completes the attach handshake for an Available device.
	Open() error

	GetProperty(id PropertyID, done func(Property, error))
	SetProperty(p Property, done func(error))

	// TriggerFeedback sends an encoded FeedbackCommand.
	TriggerFeedback(cmd int) error
}

// Listener receives driver callbacks. Calls may come from any goroutine
// and must not block.
type Listener interface {
	OnData(dev Device, data ScanData)
	OnError(err error)
	OnDeviceState(dev Device, state DeviceState)
}

// Driver is the scanning hardware driver.
type Driver interface {
	// SetListener registers the callback receiver. Must be called before
	// Connect.
	SetListener(l Listener)

	// Connect opens the driver session. Progress is reported through
	// onState.
	Connect(ctx context.Context, onState func(ConnectionState)) error

	// Disconnect closes the driver session.
	Disconnect(ctx context.Context) error
}

// DriverError is a transient error reported through Listener.OnError.
type DriverError struct {
	Kind string
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("capture driver %s error: %v", e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Status is a snapshot of the session state.
type Status struct {
	Ready        bool   `json:"ready"`
	Connection   string `json:"connection"`
	HasDevice    bool   `json:"has_device"`
	DriverErrors int    `json:"driver_errors"`
}
