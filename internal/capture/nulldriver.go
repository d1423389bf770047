package capture

import (
	"context"
	"sync"
)

// NullDriver is a Driver with no hardware behind it. Sessions open and
// close normally but no device ever attaches. It backs the "none" capture
// driver so discovery and pairing can run on hosts without a scanner link.
type NullDriver struct {
	mu        sync.Mutex
	onState   func(ConnectionState)
	connected bool
}

var _ Driver = (*NullDriver)(nil)

// NewNullDriver returns a disconnected NullDriver.
func NewNullDriver() *NullDriver {
	return &NullDriver{}
}

// SetListener is a no-op: there are no device events to deliver.
func (d *NullDriver) SetListener(Listener) {}

func (d *NullDriver) Connect(_ context.Context, onState func(ConnectionState)) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return nil
	}
	d.connected = true
	d.onState = onState
	d.mu.Unlock()

	onState(ConnConnecting)
	onState(ConnConnected)
	onState(ConnReady)
	return nil
}

func (d *NullDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return ErrNotConnected
	}
	d.connected = false
	onState := d.onState
	d.mu.Unlock()

	onState(ConnDisconnecting)
	onState(ConnDisconnected)
	return nil
}
