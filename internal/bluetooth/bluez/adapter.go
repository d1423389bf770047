package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/scanlink/internal/bluetooth"
)

const (
	busName         = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	signalBuffer = 32

	// deviceWaitTimeout bounds the inquiry that brings a removed device
	// object back before Pair.
	deviceWaitTimeout = 30 * time.Second
)

// BlueZ error names that map onto benign outcomes.
const (
	errUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	errDoesNotExist  = "org.bluez.Error.DoesNotExist"
	errInProgress    = "org.bluez.Error.InProgress"
	errNotReady      = "org.bluez.Error.NotReady"
	errFailed        = "org.bluez.Error.Failed"
	errUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	errUnknownIface  = "org.freedesktop.DBus.Error.UnknownInterface"
)

// callFunc invokes one method on an org.bluez object.
type callFunc func(ctx context.Context, path dbus.ObjectPath, method string, args ...any) *dbus.Call

// Logger is the subset of logging.Logger the adapter uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Adapter implements bluetooth.Platform over the BlueZ D-Bus API.
type Adapter struct {
	bluetooth.Listeners

	conn   *dbus.Conn
	call   callFunc
	path   dbus.ObjectPath
	logger Logger

	deviceWait time.Duration

	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pairing map[string]bool
	bonded  map[string]bool

	// appeared holds waiters for a device object to be (re)created.
	appeared map[string][]chan struct{}
}

var _ bluetooth.Platform = (*Adapter)(nil)

// Open connects to the system bus, checks that BlueZ and the named
// adapter (e.g. "hci0") are present and starts the notification loop.
func Open(ctx context.Context, adapterName string, logger Logger) (*Adapter, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: list bus names: %w", err)
	}
	if !contains(names, busName) {
		conn.Close()
		return nil, fmt.Errorf("bluez: %s not on the system bus, is bluetooth.service running?", busName)
	}

	a := newAdapter(conn, dbus.ObjectPath("/org/bluez/"+adapterName), logger)

	if _, err := a.getProp(ctx, a.path, adapterIface, "Powered"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: adapter %s: %w", adapterName, err)
	}

	if err := a.watch(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func newAdapter(conn *dbus.Conn, path dbus.ObjectPath, logger Logger) *Adapter {
	if logger == nil {
		logger = noopLogger{}
	}
	a := &Adapter{
		conn:       conn,
		path:       path,
		logger:     logger,
		deviceWait: deviceWaitTimeout,
		signals:    make(chan *dbus.Signal, signalBuffer),
		done:       make(chan struct{}),
		pairing:    make(map[string]bool),
		bonded:     make(map[string]bool),
		appeared:   make(map[string][]chan struct{}),
	}
	if conn != nil {
		a.call = func(ctx context.Context, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
			return conn.Object(busName, path).CallWithContext(ctx, method, 0, args...)
		}
	}
	return a
}

func (a *Adapter) matchRules() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace("/org/bluez"),
		},
		{
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesRemoved"),
		},
	}
}

func (a *Adapter) watch() error {
	for _, rule := range a.matchRules() {
		if err := a.conn.AddMatchSignal(rule...); err != nil {
			return fmt.Errorf("bluez: AddMatchSignal: %w", err)
		}
	}
	a.conn.Signal(a.signals)

	a.wg.Add(1)
	go a.loop()
	return nil
}

func (a *Adapter) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case sig, ok := <-a.signals:
			if !ok {
				return
			}
			a.handleSignal(sig)
		}
	}
}

// Close stops the notification loop and closes the bus connection.
// Pending Pair calls fail and report BondNone.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	var err error
	if a.conn != nil {
		for _, rule := range a.matchRules() {
			_ = a.conn.RemoveMatchSignal(rule...) //nolint:errcheck // best effort on shutdown
		}
		a.conn.RemoveSignal(a.signals)
	}
	close(a.done)
	if a.conn != nil {
		err = a.conn.Close()
	}
	a.wg.Wait()
	return err
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Enabled reports the adapter Powered property.
func (a *Adapter) Enabled(ctx context.Context) (bool, error) {
	return a.getBool(ctx, a.path, adapterIface, "Powered")
}

// RequestEnable powers the adapter. BlueZ confirms through a Powered
// property change, which is emitted as EventRadioState.
func (a *Adapter) RequestEnable(ctx context.Context) error {
	if a.isClosed() {
		return bluetooth.ErrClosed
	}
	return a.setProp(ctx, a.path, adapterIface, "Powered", true)
}

// StartDiscovery starts a BR/EDR inquiry scan. A scan already in progress
// is not an error.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	if a.isClosed() {
		return bluetooth.ErrClosed
	}
	powered, err := a.Enabled(ctx)
	if err != nil {
		return err
	}
	if !powered {
		return bluetooth.ErrRadioOff
	}
	return a.startInquiry(ctx)
}

// startInquiry restricts discovery to classic transport, which keeps LE
// advertisers out of the results, and starts it.
func (a *Adapter) startInquiry(ctx context.Context) error {
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("bredr")}
	err := a.call(ctx, a.path, adapterIface+".SetDiscoveryFilter", filter).Err
	switch errorName(err) {
	case "":
	case errNotReady:
		return bluetooth.ErrRadioOff
	default:
		// Older BlueZ without filter support still discovers.
		a.logger.Warn("bluez discovery filter not applied", "error", err)
	}

	err = a.call(ctx, a.path, adapterIface+".StartDiscovery").Err
	switch errorName(err) {
	case "", errInProgress:
		return nil
	case errNotReady:
		return bluetooth.ErrRadioOff
	default:
		return fmt.Errorf("bluez: StartDiscovery: %w", err)
	}
}

// CancelDiscovery stops an inquiry scan. Stopping when nothing runs is
// not an error.
func (a *Adapter) CancelDiscovery(ctx context.Context) error {
	if a.isClosed() {
		return nil
	}
	err := a.call(ctx, a.path, adapterIface+".StopDiscovery").Err
	switch errorName(err) {
	case "", errFailed, errNotReady:
		return nil
	default:
		return fmt.Errorf("bluez: StopDiscovery: %w", err)
	}
}

// IsBonded reports the Device1 Paired property. A device BlueZ does not
// know is not bonded.
func (a *Adapter) IsBonded(ctx context.Context, address string) (bool, error) {
	if !bluetooth.ValidAddress(address) {
		return false, bluetooth.ErrInvalidAddress
	}
	paired, err := a.getBool(ctx, deviceObjectPath(a.path, address), deviceIface, "Paired")
	if err != nil {
		switch errorName(err) {
		case errUnknownObject, errDoesNotExist:
			return false, nil
		}
		return false, err
	}
	return paired, nil
}

// CreateBond reports BondBonding immediately and runs Device1.Pair in the
// background. The outcome is reported as BondBonded or BondNone.
//
// RemoveBond deletes the device object, so a re-pair right after it finds
// no object to call Pair on. In that case an inquiry runs until BlueZ
// recreates the object or deviceWait passes.
func (a *Adapter) CreateBond(_ context.Context, address string) error {
	if !bluetooth.ValidAddress(address) {
		return bluetooth.ErrInvalidAddress
	}
	address = strings.ToUpper(address)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return bluetooth.ErrClosed
	}
	if a.pairing[address] {
		a.mu.Unlock()
		return nil
	}
	a.pairing[address] = true
	a.mu.Unlock()

	a.emitBond(address, bluetooth.BondBonding, bluetooth.BondNone)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		err := a.awaitDevice(address)
		if err == nil {
			// Pair blocks until the remote side answers or BlueZ times out.
			err = a.call(context.Background(), deviceObjectPath(a.path, address), deviceIface+".Pair").Err
		}

		a.mu.Lock()
		delete(a.pairing, address)
		a.mu.Unlock()

		if err != nil {
			a.logger.Warn("bluez pair failed", "address", address, "error", err)
			a.emitBond(address, bluetooth.BondNone, bluetooth.BondBonding)
			return
		}
		a.emitBond(address, bluetooth.BondBonded, bluetooth.BondBonding)
	}()
	return nil
}

// RemoveBond removes the device object, which drops the bond. BlueZ
// confirms with InterfacesRemoved, emitted as BondNone.
func (a *Adapter) RemoveBond(ctx context.Context, address string) error {
	if !bluetooth.ValidAddress(address) {
		return bluetooth.ErrInvalidAddress
	}
	if a.isClosed() {
		return bluetooth.ErrClosed
	}
	err := a.call(ctx, a.path, adapterIface+".RemoveDevice", deviceObjectPath(a.path, address)).Err
	switch errorName(err) {
	case "":
		return nil
	case errUnknownObject, errDoesNotExist:
		return fmt.Errorf("%w: %s", bluetooth.ErrUnknownDevice, address)
	default:
		return fmt.Errorf("bluez: RemoveDevice: %w", err)
	}
}

// awaitDevice returns once the device object for address exists. A missing
// object is brought back by an inquiry, stopped again afterwards unless
// discovery was already running.
func (a *Adapter) awaitDevice(address string) error {
	appeared := make(chan struct{})
	a.mu.Lock()
	a.appeared[address] = append(a.appeared[address], appeared)
	a.mu.Unlock()
	defer a.dropWaiter(address, appeared)

	ctx, cancel := context.WithTimeout(context.Background(), a.deviceWait)
	defer cancel()

	_, err := a.getProp(ctx, deviceObjectPath(a.path, address), deviceIface, "Address")
	switch errorName(err) {
	case "":
		return nil
	case errUnknownObject, errDoesNotExist, errUnknownMethod, errUnknownIface:
	default:
		return fmt.Errorf("bluez: device %s: %w", address, err)
	}

	a.logger.Debug("bluez device object missing, rediscovering", "address", address)
	discovering, _ := a.getBool(ctx, a.path, adapterIface, "Discovering") //nolint:errcheck // treated as not discovering
	if !discovering {
		if err := a.startInquiry(ctx); err != nil {
			return fmt.Errorf("bluez: rediscover %s: %w", address, err)
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), fetchTimeout)
			defer stop()
			if err := a.CancelDiscovery(stopCtx); err != nil {
				a.logger.Debug("bluez stop rediscovery failed", "error", err)
			}
		}()
	}

	select {
	case <-appeared:
		return nil
	case <-a.done:
		return bluetooth.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %s not rediscovered", bluetooth.ErrUnknownDevice, address)
	}
}

func (a *Adapter) dropWaiter(address string, ch chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	waiters := a.appeared[address]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(a.appeared, address)
		return
	}
	a.appeared[address] = waiters
}

// notifyAppeared wakes every waiter for address.
func (a *Adapter) notifyAppeared(address string) {
	a.mu.Lock()
	waiters := a.appeared[address]
	delete(a.appeared, address)
	a.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Subscribe registers h for platform notifications.
func (a *Adapter) Subscribe(h bluetooth.Handler, kinds ...bluetooth.EventKind) bluetooth.Subscription {
	return a.Add(h, kinds...)
}

func (a *Adapter) emitBond(address string, state, prev bluetooth.BondState) {
	a.mu.Lock()
	a.bonded[address] = state == bluetooth.BondBonded
	a.mu.Unlock()

	a.Emit(bluetooth.Event{
		Kind:         bluetooth.EventBondState,
		Address:      address,
		Bond:         state,
		PreviousBond: prev,
	})
}

// --- property helpers ---

func (a *Adapter) getProp(ctx context.Context, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := a.call(ctx, path, propsIface+".Get", iface, prop).Store(&v)
	return v, err
}

func (a *Adapter) setProp(ctx context.Context, path dbus.ObjectPath, iface, prop string, val any) error {
	return a.call(ctx, path, propsIface+".Set", iface, prop, dbus.MakeVariant(val)).Err
}

func (a *Adapter) getBool(ctx context.Context, path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := a.getProp(ctx, path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: property %s is not bool", prop)
	}
	return val, nil
}

func (a *Adapter) getAll(ctx context.Context, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := a.call(ctx, path, propsIface+".GetAll", iface).Store(&props)
	return props, err
}

// errorName returns the D-Bus error name carried by err, or "" for nil
// and non-D-Bus errors.
func errorName(err error) string {
	if err == nil {
		return ""
	}
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	return "unknown"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
