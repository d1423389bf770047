package device

import "strings"

// PeripheralRecord is a discovered Bluetooth peripheral.
//
// Address is the identity key. A record is created when the platform first
// reports the peripheral and overwritten in place on rediscovery.
type PeripheralRecord struct {
	Address       string `json:"address"`
	Name          string `json:"name"`
	AlreadyBonded bool   `json:"alreadyBonded"`
}

// MatchesPrefix reports whether the record should be published under the
// given name filter. Bonded peripherals never match. A nil prefix matches
// every unbonded peripheral; otherwise the name must start with *prefix
// (case-sensitive).
func (r PeripheralRecord) MatchesPrefix(prefix *string) bool {
	if r.AlreadyBonded {
		return false
	}
	if prefix == nil {
		return true
	}
	return strings.HasPrefix(r.Name, *prefix)
}

// NormalizeAddress upper-cases a MAC address so lookups are
// case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
