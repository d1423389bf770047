package scanner

import (
	"context"
	"fmt"
	"sync"
)

// Store persists the single "last paired scanner" slot.
//
// The capture session manager is the only writer.
type Store interface {
	// Read returns the stored record, or nil with no error when the slot
	// is empty.
	Read(ctx context.Context) (*Record, error)

	// Write replaces the stored record.
	Write(ctx context.Context, rec Record) error

	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error
}

// Validate checks a record before it is persisted.
func (r Record) Validate() error {
	if r.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidRecord)
	}
	if r.BatteryLevel < BatteryUnknown {
		return fmt.Errorf("%w: %d", ErrInvalidBatteryLevel, r.BatteryLevel)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests. It also counts writes and
// clears so callers can assert on persistence traffic.
type MemoryStore struct {
	mu  sync.RWMutex
	rec *Record

	writes int
	clears int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(context.Context) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return nil, nil
	}
	cp := *m.rec
	return &cp, nil
}

func (m *MemoryStore) Write(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	m.writes++
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	m.clears++
	return nil
}

// Writes returns how many times Write succeeded.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Clears returns how many times Clear was called.
func (m *MemoryStore) Clears() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clears
}
