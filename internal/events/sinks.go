package events

import (
	"encoding/json"
	"fmt"
)

// EventPublisher is the part of mqtt.Client the MQTT sink uses.
type EventPublisher interface {
	PublishEvent(eventType string, payload []byte, retained bool) error
}

// retainedTypes are state topics: a late subscriber needs the last value.
var retainedTypes = map[string]bool{
	TypeScannerDevice:      true,
	TypeRadioState:         true,
	TypeDiscoveryScanState: true,
}

// MQTTSink publishes every event as JSON on the node's event topic.
type MQTTSink struct {
	client EventPublisher
}

// NewMQTTSink creates a sink on a connected client.
func NewMQTTSink(client EventPublisher) *MQTTSink {
	return &MQTTSink{client: client}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Handle(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", e.Type, err)
	}
	return s.client.PublishEvent(e.Type, payload, retainedTypes[e.Type])
}

// TelemetryWriter is the part of influxdb.Client the telemetry sink uses.
type TelemetryWriter interface {
	WriteBatteryLevel(address, name string, level int)
	WriteScan(sourceName string, length int)
	WriteDriverError(kind string)
	WritePairingOutcome(address, state string)
}

// TelemetrySink turns scanner events into time-series points.
type TelemetrySink struct {
	writer TelemetryWriter
}

// NewTelemetrySink creates a sink writing through w.
func NewTelemetrySink(w TelemetryWriter) *TelemetrySink {
	return &TelemetrySink{writer: w}
}

func (s *TelemetrySink) Name() string { return "telemetry" }

func (s *TelemetrySink) Handle(e Event) error {
	switch p := e.Payload.(type) {
	case DevicePayload:
		if p.Scanner != nil {
			s.writer.WriteBatteryLevel(p.Scanner.Address, p.Scanner.Name, p.Scanner.BatteryLevel)
		}
	case ScanPayload:
		s.writer.WriteScan(p.Name, len(p.Data))
	case DriverErrorPayload:
		s.writer.WriteDriverError(p.Kind)
	case PairingPayload:
		// Only terminal states are counted.
		if p.State != "bonding" {
			s.writer.WritePairingOutcome(p.Address, p.State)
		}
	}
	return nil
}
