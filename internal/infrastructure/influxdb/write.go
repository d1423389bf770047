package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by scanlink.
const (
	MeasurementBattery     = "scanner_battery"
	MeasurementScan        = "scanner_scan"
	MeasurementDriverError = "scanner_driver_error"
	MeasurementPairing     = "scanner_pairing"
)

// WriteBatteryLevel records a scanner battery reading. Unknown levels
// (negative) are skipped.
func (c *Client) WriteBatteryLevel(address, name string, level int) {
	if level < 0 {
		return
	}
	c.WritePoint(MeasurementBattery,
		map[string]string{"address": address, "name": name},
		map[string]any{"level_percent": level},
	)
}

// WriteScan records one decoded scan. Only the payload length is stored,
// never the payload itself.
func (c *Client) WriteScan(sourceName string, length int) {
	c.WritePoint(MeasurementScan,
		map[string]string{"source": sourceName},
		map[string]any{"count": 1, "length": length},
	)
}

// WriteDriverError counts a transient capture driver error by kind.
func (c *Client) WriteDriverError(kind string) {
	c.WritePoint(MeasurementDriverError,
		map[string]string{"kind": kind},
		map[string]any{"count": 1},
	)
}

// WritePairingOutcome records the terminal state of a pairing attempt.
func (c *Client) WritePairingOutcome(address, state string) {
	c.WritePoint(MeasurementPairing,
		map[string]string{"address": address, "state": state},
		map[string]any{"count": 1},
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || c.writer == nil {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
