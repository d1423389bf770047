// Package capturetest provides an in-memory capture driver for tests.
package capturetest

import (
	"context"
	"sync"

	"github.com/nerrad567/scanlink/internal/capture"
)

// Driver is a scriptable capture.Driver. Connect and Disconnect report
// the full connection-state sequence synchronously.
type Driver struct {
	mu        sync.Mutex
	listener  capture.Listener
	onState   func(capture.ConnectionState)
	connected bool

	// ConnectErr and DisconnectErr are returned by the next calls.
	ConnectErr    error
	DisconnectErr error

	// AutoReady makes Device.Open report the device Ready.
	AutoReady bool

	connects    int
	disconnects int
}

// NewDriver returns a driver whose devices become Ready when opened.
func NewDriver() *Driver {
	return &Driver{AutoReady: true}
}

func (d *Driver) SetListener(l capture.Listener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *Driver) Connect(_ context.Context, onState func(capture.ConnectionState)) error {
	d.mu.Lock()
	d.connects++
	if d.ConnectErr != nil {
		err := d.ConnectErr
		d.mu.Unlock()
		return err
	}
	d.onState = onState
	d.connected = true
	d.mu.Unlock()

	onState(capture.ConnConnecting)
	onState(capture.ConnConnected)
	onState(capture.ConnReady)
	return nil
}

func (d *Driver) Disconnect(context.Context) error {
	d.mu.Lock()
	d.disconnects++
	if d.DisconnectErr != nil {
		err := d.DisconnectErr
		d.mu.Unlock()
		return err
	}
	onState := d.onState
	d.connected = false
	d.mu.Unlock()

	if onState != nil {
		onState(capture.ConnDisconnecting)
		onState(capture.ConnDisconnected)
	}
	return nil
}

// Connects returns how many times Connect was called.
func (d *Driver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Disconnects returns how many times Disconnect was called.
func (d *Driver) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// Connected reports whether a session is open.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Driver) getListener() capture.Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// Attach reports dev as Available.
func (d *Driver) Attach(dev *Device) {
	dev.mu.Lock()
	dev.driver = d
	dev.mu.Unlock()
	d.State(dev, capture.DeviceAvailable)
}

// State reports an arbitrary device state.
func (d *Driver) State(dev *Device, s capture.DeviceState) {
	if l := d.getListener(); l != nil {
		l.OnDeviceState(dev, s)
	}
}

// Gone reports dev as Gone.
func (d *Driver) Gone(dev *Device) {
	d.State(dev, capture.DeviceGone)
}

// Scan delivers a data event from dev.
func (d *Driver) Scan(dev *Device, data capture.ScanData) {
	if l := d.getListener(); l != nil {
		l.OnData(dev, data)
	}
}

// Fail delivers a driver error.
func (d *Driver) Fail(err error) {
	if l := d.getListener(); l != nil {
		l.OnError(err)
	}
}

// Device is a scriptable capture.Device. Property callbacks complete
// inline unless Async is set.
type Device struct {
	id string

	mu       sync.Mutex
	driver   *Driver
	props    map[capture.PropertyID]capture.Property
	errs     map[capture.PropertyID]error
	opens    int
	reads    []capture.PropertyID
	feedback []int
	inflight int
	peak     int

	// Async completes property callbacks on a new goroutine.
	Async bool

	// OpenErr and FeedbackErr are returned by Open and TriggerFeedback.
	OpenErr     error
	FeedbackErr error

	// SetErr is reported to SetProperty callbacks.
	SetErr error
}

// NewDevice returns a device with no properties set.
func NewDevice(id string) *Device {
	return &Device{
		id:    id,
		props: make(map[capture.PropertyID]capture.Property),
		errs:  make(map[capture.PropertyID]error),
	}
}

// Put sets a property value.
func (d *Device) Put(p capture.Property) {
	d.mu.Lock()
	d.props[p.ID] = p
	delete(d.errs, p.ID)
	d.mu.Unlock()
}

// FailProperty makes reads of id report err.
func (d *Device) FailProperty(id capture.PropertyID, err error) {
	d.mu.Lock()
	d.errs[id] = err
	d.mu.Unlock()
}

func (d *Device) ID() string { return d.id }

func (d *Device) Open() error {
	d.mu.Lock()
	d.opens++
	err := d.OpenErr
	drv := d.driver
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if drv != nil && drv.AutoReady {
		drv.State(d, capture.DeviceReady)
	}
	return nil
}

func (d *Device) GetProperty(id capture.PropertyID, done func(capture.Property, error)) {
	d.mu.Lock()
	d.reads = append(d.reads, id)
	d.enterLocked()
	p, ok := d.props[id]
	err := d.errs[id]
	if err == nil && !ok {
		err = capture.ErrUnsupported
	}
	async := d.Async
	d.mu.Unlock()

	complete := func() {
		d.leave()
		done(p, err)
	}
	if async {
		go complete()
		return
	}
	complete()
}

func (d *Device) SetProperty(p capture.Property, done func(error)) {
	d.mu.Lock()
	d.enterLocked()
	err := d.SetErr
	if err == nil {
		d.props[p.ID] = p
	}
	async := d.Async
	d.mu.Unlock()

	complete := func() {
		d.leave()
		done(err)
	}
	if async {
		go complete()
		return
	}
	complete()
}

func (d *Device) TriggerFeedback(cmd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FeedbackErr != nil {
		return d.FeedbackErr
	}
	d.feedback = append(d.feedback, cmd)
	return nil
}

func (d *Device) enterLocked() {
	d.inflight++
	if d.inflight > d.peak {
		d.peak = d.inflight
	}
}

func (d *Device) leave() {
	d.mu.Lock()
	d.inflight--
	d.mu.Unlock()
}

// Opens returns how many times Open was called.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Reads returns the property ids read, in order.
func (d *Device) Reads() []capture.PropertyID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]capture.PropertyID(nil), d.reads...)
}

// Feedback returns the feedback commands received, in order.
func (d *Device) Feedback() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.feedback...)
}

// PeakInFlight returns the highest number of overlapping property
// requests seen.
func (d *Device) PeakInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}
