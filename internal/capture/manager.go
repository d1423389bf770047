package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/scanlink/internal/events"
	"github.com/nerrad567/scanlink/internal/scanner"
)

// BondChecker is the slice of the platform Bluetooth layer the manager
// needs for reconciliation. bluetooth.Platform satisfies it.
type BondChecker interface {
	IsBonded(ctx context.Context, address string) (bool, error)
	RemoveBond(ctx context.Context, address string) error
}

// ScanRecorder keeps a history of scans. scanner.ScanLog satisfies it.
type ScanRecorder interface {
	Append(ctx context.Context, e scanner.ScanEntry) error
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the capture session with the hardware driver and is the
// only writer of the persisted scanner record.
//
// Driver callbacks are handled off the driver's goroutine: device state
// changes run one at a time in arrival order, so a Gone that follows a
// Ready always sees the record Ready wrote.
//
// All public methods are thread-safe.
type Manager struct {
	driver Driver
	store  scanner.Store
	bonds  BondChecker
	events events.Publisher
	router *Router

	ctx    context.Context
	cancel context.CancelFunc

	states  *serialQueue
	history *serialQueue
	handles handleLocks

	// storeMu covers each read-modify-write of the store so reconciliation
	// never observes a half-finished update.
	storeMu sync.Mutex

	mu           sync.Mutex
	logger       Logger
	scans        ScanRecorder
	conn         ConnectionState
	ready        bool
	connecting   bool
	last         Device
	driverErrors int
	now          func() time.Time
}

// NewManager creates a capture session manager and registers it as the
// driver's listener. A nil router gets an empty one.
func NewManager(driver Driver, store scanner.Store, bonds BondChecker, publisher events.Publisher, router *Router) *Manager {
	if router == nil {
		router = NewRouter()
	}
	ctx, cancel := context.WithCancel(context.Background())
	spawn := func(f func()) { go f() }

	m := &Manager{
		driver:  driver,
		store:   store,
		bonds:   bonds,
		events:  publisher,
		router:  router,
		ctx:     ctx,
		cancel:  cancel,
		states:  newSerialQueue(spawn),
		history: newSerialQueue(spawn),
		logger:  noopLogger{},
		now:     time.Now,
	}
	driver.SetListener(m)
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// SetScanLog enables scan history. Pass nil to disable it.
func (m *Manager) SetScanLog(r ScanRecorder) {
	m.mu.Lock()
	m.scans = r
	m.mu.Unlock()
}

// Router returns the scan router.
func (m *Manager) Router() *Router {
	return m.router
}

func (m *Manager) log() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

// StartSession connects to the driver. It is a no-op while a session is
// ready or a connect is already under way.
func (m *Manager) StartSession(ctx context.Context) error {
	m.mu.Lock()
	if m.ready || m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.mu.Unlock()

	err := m.driver.Connect(ctx, m.onConnectionState)

	m.mu.Lock()
	m.connecting = false
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("connecting capture driver: %w", err)
	}
	return nil
}

// StopSession disconnects from the driver. It is a no-op unless the
// session is ready.
func (m *Manager) StopSession(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	if !ready {
		return nil
	}

	if err := m.driver.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting capture driver: %w", err)
	}

	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	return nil
}

func (m *Manager) onConnectionState(s ConnectionState) {
	m.mu.Lock()
	m.conn = s
	switch s {
	case ConnReady:
		m.ready = true
	case ConnDisconnected:
		m.ready = false
	}
	logger := m.logger
	m.mu.Unlock()

	logger.Debug("capture connection state changed", "state", s.String())
}

// OnDeviceState implements Listener.
func (m *Manager) OnDeviceState(dev Device, state DeviceState) {
	m.log().Debug("capture device state changed", "device", dev.ID(), "state", state.String())

	switch state {
	case DeviceAvailable:
		m.states.push(func() { m.openDevice(dev) })
	case DeviceReady:
		m.states.push(func() { m.deviceReady(dev) })
	case DeviceGone:
		m.states.push(func() { m.deviceGone(dev) })
	}
}

func (m *Manager) openDevice(dev Device) {
	if err := dev.Open(); err != nil {
		m.log().Warn("failed to open capture device", "device", dev.ID(), "error", err)
	}
}

func (m *Manager) deviceReady(dev Device) {
	m.setLast(dev)

	rec := m.readRecord(m.ctx, dev)
	if m.ctx.Err() != nil {
		return
	}

	m.storeMu.Lock()
	err := m.store.Write(m.ctx, rec)
	m.storeMu.Unlock()
	if err != nil {
		m.log().Error("failed to persist scanner", "address", rec.Address, "error", err)
	}

	m.log().Info("scanner ready", "name", rec.Name, "address", rec.Address, "battery", rec.BatteryLevel)
	m.publishScanner(&rec)
}

// deviceGone reconciles the stored record against the platform. A
// missing bond is the only signal to forget the scanner.
func (m *Manager) deviceGone(dev Device) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	logger := m.log()
	rec, err := m.store.Read(m.ctx)
	if err != nil {
		logger.Error("failed to read stored scanner", "error", err)
		return
	}
	if rec == nil {
		return
	}

	bonded, err := m.bonds.IsBonded(m.ctx, rec.Address)
	if err != nil {
		// Unknown is not absent: keep the record, mark it disconnected.
		logger.Warn("bond query failed, keeping scanner", "address", rec.Address, "error", err)
		bonded = true
	}

	if bonded {
		rec.Connected = false
		if err := m.store.Write(m.ctx, *rec); err != nil {
			logger.Error("failed to persist scanner", "address", rec.Address, "error", err)
		}
		logger.Info("scanner out of range", "device", dev.ID(), "address", rec.Address)
		m.publishScanner(rec)
		return
	}

	if err := m.store.Clear(m.ctx); err != nil {
		logger.Error("failed to clear stored scanner", "error", err)
	}
	logger.Info("scanner no longer bonded, forgetting it", "address", rec.Address)
	m.publishScanner(nil)
}

// readRecord fetches name, address and battery from dev, substituting
// defaults for any read that fails.
func (m *Manager) readRecord(ctx context.Context, dev Device) scanner.Record {
	logger := m.log()
	rec := scanner.Record{
		Name:         DefaultScannerName,
		Address:      DefaultAddress,
		Connected:    true,
		BatteryLevel: DefaultBattery,
	}

	if p, err := m.getProperty(ctx, dev, PropertyFriendlyName); err != nil {
		logger.Debug("friendly name unavailable", "device", dev.ID(), "error", err)
	} else if p.String != "" {
		rec.Name = p.String
	}

	if p, err := m.getProperty(ctx, dev, PropertyBluetoothAddress); err != nil {
		logger.Debug("bluetooth address unavailable", "device", dev.ID(), "error", err)
	} else if len(p.Bytes) > 0 {
		rec.Address = FormatAddress(p.Bytes)
	}

	if p, err := m.getProperty(ctx, dev, PropertyBatteryLevel); err != nil {
		logger.Debug("battery level unavailable", "device", dev.ID(), "error", err)
	} else if level, err := DecodeBattery(p.Uint); err != nil {
		logger.Debug("battery level undecodable", "device", dev.ID(), "raw", p.Uint, "error", err)
	} else {
		rec.BatteryLevel = level
	}

	return rec
}

// OnData implements Listener.
func (m *Manager) OnData(dev Device, data ScanData) {
	m.setLast(dev)

	m.events.Publish(events.TypeScannerScan, events.ScanPayload{
		ID:   data.SourceID,
		Name: data.SourceName,
		Data: data.Data,
	})

	logger := m.log()
	if kind, ok := m.router.Dispatch(data.Data); ok {
		logger.Debug("scan routed", "listener", kind)
	}

	m.mu.Lock()
	recorder := m.scans
	now := m.now()
	m.mu.Unlock()
	if recorder == nil {
		return
	}

	entry := scanner.ScanEntry{
		SourceID:   data.SourceID,
		SourceName: data.SourceName,
		Data:       data.Data,
		ScannedAt:  now.UTC(),
	}
	m.history.push(func() {
		if err := recorder.Append(m.ctx, entry); err != nil {
			logger.Warn("failed to record scan", "error", err)
		}
	})
}

// OnError implements Listener. Driver errors never end the session.
func (m *Manager) OnError(err error) {
	kind := "driver"
	var de *DriverError
	if errors.As(err, &de) {
		kind = de.Kind
	}

	m.mu.Lock()
	m.driverErrors++
	logger := m.logger
	m.mu.Unlock()

	logger.Warn("capture driver error", "kind", kind, "error", err)
	m.events.Publish(events.TypeScannerError, events.DriverErrorPayload{
		Kind:    kind,
		Message: err.Error(),
	})
}

// GoodBeep sends positive feedback to the last used device. No-op when
// no device is known.
func (m *Manager) GoodBeep() error {
	return m.feedback(PositiveFeedback)
}

// BadBeep sends negative feedback to the last used device. No-op when no
// device is known.
func (m *Manager) BadBeep() error {
	return m.feedback(NegativeFeedback)
}

func (m *Manager) feedback(cmd FeedbackCommand) error {
	dev := m.lastDevice()
	if dev == nil {
		return nil
	}
	if err := dev.TriggerFeedback(cmd.Encode()); err != nil {
		return fmt.Errorf("triggering feedback on %s: %w", dev.ID(), err)
	}
	return nil
}

// UpdateScannerName renames the last used device, then re-reads its
// properties and rewrites the stored record. No-op when no device is
// known.
func (m *Manager) UpdateScannerName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	dev := m.lastDevice()
	if dev == nil {
		return nil
	}

	logger := m.log()
	if err := m.setProperty(ctx, dev, Property{ID: PropertyFriendlyName, String: name}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("failed to set friendly name", "device", dev.ID(), "error", err)
	}

	rec := m.readRecord(ctx, dev)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.storeMu.Lock()
	err := m.store.Write(ctx, rec)
	m.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("persisting renamed scanner: %w", err)
	}

	m.publishScanner(&rec)
	return nil
}

// ForgetScanner removes the platform bond of the stored scanner and then
// clears the record. Without a bonded match it does nothing: the scanner
// is already forgotten.
func (m *Manager) ForgetScanner(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	rec, err := m.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading stored scanner: %w", err)
	}
	if rec == nil {
		return nil
	}

	logger := m.log()
	bonded, err := m.bonds.IsBonded(ctx, rec.Address)
	if err != nil {
		return fmt.Errorf("checking bond for %s: %w", rec.Address, err)
	}
	if !bonded {
		logger.Debug("no bonded scanner to forget", "name", rec.Name, "address", rec.Address)
		return nil
	}

	if err := m.bonds.RemoveBond(ctx, rec.Address); err != nil {
		return fmt.Errorf("removing bond for %s: %w", rec.Address, err)
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing stored scanner: %w", err)
	}

	logger.Info("scanner forgotten", "name", rec.Name, "address", rec.Address)
	m.publishScanner(nil)
	return nil
}

// ForgetSavedScanners clears the stored record and reports no scanner.
// It always succeeds; a store failure is logged.
func (m *Manager) ForgetSavedScanners(ctx context.Context) error {
	m.storeMu.Lock()
	err := m.store.Clear(ctx)
	m.storeMu.Unlock()
	if err != nil {
		m.log().Error("failed to clear stored scanner", "error", err)
	}

	m.publishScanner(nil)
	return nil
}

// CurrentScanner returns the stored scanner record, or nil when none is
// stored.
func (m *Manager) CurrentScanner(ctx context.Context) (*scanner.Record, error) {
	rec, err := m.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stored scanner: %w", err)
	}
	return rec, nil
}

// Status returns a snapshot of the session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Ready:        m.ready,
		Connection:   m.conn.String(),
		HasDevice:    m.last != nil,
		DriverErrors: m.driverErrors,
	}
}

// Wait blocks until queued device state handling and scan recording have
// finished.
func (m *Manager) Wait() {
	m.states.wait()
	m.history.wait()
}

// Close stops the session, abandons in-flight property reads and waits
// for queued work.
func (m *Manager) Close(ctx context.Context) error {
	err := m.StopSession(ctx)
	m.cancel()
	m.Wait()
	return err
}

func (m *Manager) setLast(dev Device) {
	m.mu.Lock()
	m.last = dev
	m.mu.Unlock()
}

func (m *Manager) lastDevice() Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) publishScanner(rec *scanner.Record) {
	var payload events.DevicePayload
	if rec != nil {
		cp := *rec
		payload.Scanner = &cp
	}
	m.events.Publish(events.TypeScannerDevice, payload)
}
