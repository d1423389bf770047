package capture

import (
	"context"
	"sync"
)

type propertyResult struct {
	prop Property
	err  error
}

// handleLocks serializes property operations per device handle. The
// driver does not accept overlapping requests on one handle.
type handleLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (h *handleLocks) lock(dev Device) (unlock func()) {
	h.mu.Lock()
	if h.locks == nil {
		h.locks = make(map[string]*sync.Mutex)
	}
	l, ok := h.locks[dev.ID()]
	if !ok {
		l = &sync.Mutex{}
		h.locks[dev.ID()] = l
	}
	h.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// getProperty issues one property read and waits for its callback. There
// is no timeout: the driver calls back exactly once. Cancelling ctx
// abandons the wait but not the request.
func (m *Manager) getProperty(ctx context.Context, dev Device, id PropertyID) (Property, error) {
	unlock := m.handles.lock(dev)
	defer unlock()

	result := make(chan propertyResult, 1)
	dev.GetProperty(id, func(p Property, err error) {
		select {
		case result <- propertyResult{prop: p, err: err}:
		default:
		}
	})

	select {
	case r := <-result:
		return r.prop, r.err
	case <-ctx.Done():
		return Property{}, ctx.Err()
	}
}

// setProperty issues one property write and waits for its callback.
func (m *Manager) setProperty(ctx context.Context, dev Device, p Property) error {
	unlock := m.handles.lock(dev)
	defer unlock()

	result := make(chan error, 1)
	dev.SetProperty(p, func(err error) {
		select {
		case result <- err:
		default:
		}
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
