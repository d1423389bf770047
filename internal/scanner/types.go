package scanner

import "time"

// Unknown battery level.
const BatteryUnknown = -1

// Record is the last paired scanner. There is only ever one.
type Record struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Connected    bool   `json:"connected"`
	BatteryLevel int    `json:"batteryLevel"`
}

// ScanEntry is one decoded scan kept in the scan log.
type ScanEntry struct {
	ID         int64     `json:"id"`
	SourceID   int       `json:"sourceId"`
	SourceName string    `json:"sourceName"`
	Data       string    `json:"data"`
	ScannedAt  time.Time `json:"scannedAt"`
}
