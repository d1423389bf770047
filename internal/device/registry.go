package device

import (
	"fmt"
	"sync"
)

// Registry is the in-memory catalogue of peripherals seen by the current
// discovery run.
//
// Records are kept by address and published in first-discovery order:
// rediscovering a peripheral updates its fields without moving it.
//
// All public methods are thread-safe. Returned records are copies.
type Registry struct {
	mu      sync.RWMutex
	records map[string]PeripheralRecord
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]PeripheralRecord),
	}
}

// Upsert stores rec, replacing any record with the same address.
// Returns true when the address was not known before.
func (r *Registry) Upsert(rec PeripheralRecord) (bool, error) {
	rec.Address = NormalizeAddress(rec.Address)
	if rec.Address == "" {
		return false, fmt.Errorf("%w: empty address", ErrInvalidRecord)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.records[rec.Address]
	r.records[rec.Address] = rec
	if !exists {
		r.order = append(r.order, rec.Address)
	}
	return !exists, nil
}

// Get returns the record for addr.
// Returns ErrPeripheralNotFound if the address has not been discovered.
func (r *Registry) Get(addr string) (PeripheralRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[NormalizeAddress(addr)]
	if !ok {
		return PeripheralRecord{}, ErrPeripheralNotFound
	}
	return rec, nil
}

// Contains reports whether addr has been discovered.
func (r *Registry) Contains(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[NormalizeAddress(addr)]
	return ok
}

// Snapshot returns every record in first-discovery order.
func (r *Registry) Snapshot() []PeripheralRecord {
	return r.Filtered(func(PeripheralRecord) bool { return true })
}

// Filtered returns the records accepted by keep, in first-discovery order.
func (r *Registry) Filtered(keep func(PeripheralRecord) bool) []PeripheralRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeripheralRecord, 0, len(r.order))
	for _, addr := range r.order {
		if rec := r.records[addr]; keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Clear discards every record.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]PeripheralRecord)
	r.order = nil
}

// Len returns the number of known peripherals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
