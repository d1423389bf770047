package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/scanlink/internal/bluetooth"
	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/events"
)

// Status is the controller's externally visible scanning state.
type Status string

const (
	// StatusIdle means discovery is not wanted.
	StatusIdle Status = "idle"

	// StatusSearching means discovery is wanted but the radio is off.
	// It is not an error: scanning begins once the radio comes up.
	StatusSearching Status = "searching"

	// StatusScanning means an inquiry scan has been started.
	StatusScanning Status = "scanning"
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Controller runs Bluetooth discovery and publishes filtered snapshots of
// the peripherals found.
//
// Scanning is logically continuous between StartDiscovery and
// StopDiscovery: when the platform ends an inquiry on its own, the
// controller starts another one. Each StartDiscovery takes a new
// generation; notifications that arrive for an older generation never
// restart scanning.
//
// All public methods are thread-safe.
type Controller struct {
	platform bluetooth.Platform
	registry *device.Registry
	events   events.Publisher
	logger   Logger

	// run executes restarts triggered from platform notifications. It
	// defaults to a new goroutine so notification handlers never block on
	// platform calls.
	run func(func())

	mu            sync.Mutex
	sub           bluetooth.Subscription
	radioSub      bluetooth.Subscription
	wanted        bool
	generation    uint64
	awaitingRadio bool
	filter        *string
	status        Status
}

// NewController creates a discovery controller. The registry is owned by
// the controller from here on; other components may only read it.
func NewController(platform bluetooth.Platform, registry *device.Registry, publisher events.Publisher) *Controller {
	return &Controller{
		platform: platform,
		registry: registry,
		events:   publisher,
		logger:   noopLogger{},
		run:      func(f func()) { go f() },
		status:   StatusIdle,
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// WatchRadio publishes radio power changes as radio.state events until
// Close is called. Calling it more than once has no further effect.
func (c *Controller) WatchRadio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.radioSub != nil {
		return
	}
	c.radioSub = c.platform.Subscribe(func(e bluetooth.Event) {
		c.events.Publish(events.TypeRadioState, events.RadioStatePayload{Enabled: e.RadioOn})
	}, bluetooth.EventRadioState)
}

// RadioEnabled reports whether the Bluetooth radio is powered.
func (c *Controller) RadioEnabled(ctx context.Context) (bool, error) {
	enabled, err := c.platform.Enabled(ctx)
	if err != nil {
		return false, fmt.Errorf("querying radio state: %w", err)
	}
	return enabled, nil
}

// StartDiscovery begins continuous discovery, publishing peripherals whose
// name starts with filterPrefix (all unbonded peripherals when nil).
//
// When the radio is off the controller requests that it be enabled and
// defers scanning until the platform reports it on. A second call while
// deferred does not request enabling again.
func (c *Controller) StartDiscovery(ctx context.Context, filterPrefix *string) error {
	c.mu.Lock()
	c.filter = copyFilter(filterPrefix)
	if c.sub == nil {
		c.sub = c.platform.Subscribe(c.handleEvent,
			bluetooth.EventDeviceFound,
			bluetooth.EventDiscoveryStarted,
			bluetooth.EventDiscoveryFinished,
			bluetooth.EventRadioState,
		)
	}
	c.wanted = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	enabled, err := c.platform.Enabled(ctx)
	if err != nil {
		return fmt.Errorf("querying radio state: %w", err)
	}
	if !enabled {
		c.awaitRadio(ctx, gen)
		return nil
	}
	return c.startScan(ctx, gen)
}

// awaitRadio defers scanning after the radio was found off. The radio may
// have come on since that query, and powering an adapter that is already
// on reports no change, so the state is queried again after the request.
func (c *Controller) awaitRadio(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.status != StatusScanning {
		c.status = StatusSearching
	}
	c.mu.Unlock()

	if !c.requestRadio(ctx) {
		return
	}

	on, err := c.platform.Enabled(ctx)
	if err != nil || !on {
		return
	}
	c.mu.Lock()
	resume := c.awaitingRadio && c.status != StatusScanning
	c.awaitingRadio = false
	c.mu.Unlock()
	if resume {
		c.run(func() { c.restart(gen) })
	}
}

// deferUntilRadio is used when the platform refuses a scan for lack of
// power. The radio-on notification resumes it.
func (c *Controller) deferUntilRadio(ctx context.Context) {
	c.mu.Lock()
	c.status = StatusSearching
	c.mu.Unlock()
	c.requestRadio(ctx)
}

// requestRadio requests radio power once per discovery run. It reports
// whether this call made the request.
func (c *Controller) requestRadio(ctx context.Context) bool {
	c.mu.Lock()
	if c.awaitingRadio {
		c.mu.Unlock()
		return false
	}
	c.awaitingRadio = true
	logger := c.logger
	c.mu.Unlock()

	logger.Info("bluetooth radio is off, requesting enable before discovery")
	if err := c.platform.RequestEnable(ctx); err != nil {
		// Still searching: the user may power the radio on by hand.
		logger.Warn("requesting radio enable failed", "error", err)
	}
	return true
}

func (c *Controller) startScan(ctx context.Context, gen uint64) error {
	if !c.current(gen) {
		return nil
	}

	err := c.platform.StartDiscovery(ctx)
	if errors.Is(err, bluetooth.ErrRadioOff) {
		c.deferUntilRadio(ctx)
		return nil
	}
	if err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}

	c.mu.Lock()
	if c.wanted && c.generation == gen {
		c.status = StatusScanning
	}
	c.mu.Unlock()
	return nil
}

// current reports whether gen is still the wanted discovery run.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wanted && c.generation == gen
}

func (c *Controller) handleEvent(e bluetooth.Event) {
	c.mu.Lock()
	if !c.wanted {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	switch e.Kind {
	case bluetooth.EventDeviceFound:
		c.handleFound(e.Peripheral)

	case bluetooth.EventDiscoveryStarted:
		c.events.Publish(events.TypeDiscoveryScanState, events.ScanStatePayload{Discovering: true})

	case bluetooth.EventDiscoveryFinished:
		c.events.Publish(events.TypeDiscoveryScanState, events.ScanStatePayload{Discovering: false})
		c.mu.Lock()
		restart := c.wanted && c.generation == gen && !c.awaitingRadio
		logger := c.logger
		c.mu.Unlock()
		if restart {
			logger.Debug("discovery finished while wanted, restarting")
			c.run(func() { c.restart(gen) })
		}

	case bluetooth.EventRadioState:
		c.mu.Lock()
		if !e.RadioOn {
			c.status = StatusSearching
			c.mu.Unlock()
			return
		}
		// Idle counts too: power may arrive before the deferral is recorded.
		resume := c.awaitingRadio || c.status != StatusScanning
		c.awaitingRadio = false
		c.mu.Unlock()
		if resume {
			c.run(func() { c.restart(gen) })
		}
	}
}

func (c *Controller) restart(gen uint64) {
	if err := c.startScan(context.Background(), gen); err != nil {
		c.mu.Lock()
		logger := c.logger
		c.mu.Unlock()
		logger.Warn("restarting discovery failed", "error", err)
	}
}

func (c *Controller) handleFound(p bluetooth.Peripheral) {
	rec := device.PeripheralRecord{
		Address:       p.Address,
		Name:          p.Name,
		AlreadyBonded: p.Bonded,
	}
	if _, err := c.registry.Upsert(rec); err != nil {
		c.mu.Lock()
		logger := c.logger
		c.mu.Unlock()
		logger.Debug("ignoring discovered peripheral", "error", err)
		return
	}
	c.publishSnapshot()
}

func (c *Controller) publishSnapshot() {
	c.events.Publish(events.TypeDiscoveryDevices, events.DevicesPayload{Devices: c.Devices()})
}

// Devices returns the current filtered snapshot in first-discovery order.
// Bonded peripherals are never included.
func (c *Controller) Devices() []device.PeripheralRecord {
	c.mu.Lock()
	filter := copyFilter(c.filter)
	c.mu.Unlock()

	return c.registry.Filtered(func(r device.PeripheralRecord) bool {
		return r.MatchesPrefix(filter)
	})
}

// SetFilter changes the name prefix filter. A nil prefix passes every
// unbonded peripheral. The current snapshot is republished with the new
// filter while discovery runs.
func (c *Controller) SetFilter(prefix *string) {
	c.mu.Lock()
	c.filter = copyFilter(prefix)
	active := c.wanted
	c.mu.Unlock()

	if active {
		c.publishSnapshot()
	}
}

// Filter returns the current prefix filter, or nil when none is set.
func (c *Controller) Filter() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFilter(c.filter)
}

// ClearCache empties the registry. An active scan keeps running.
func (c *Controller) ClearCache() {
	c.registry.Clear()
}

// StopDiscovery unsubscribes from the platform, cancels any running scan
// and discards the registry. It is a no-op when discovery never started.
func (c *Controller) StopDiscovery(ctx context.Context) error {
	c.mu.Lock()
	sub := c.sub
	wasActive := c.wanted || sub != nil
	c.sub = nil
	c.wanted = false
	c.generation++
	c.awaitingRadio = false
	c.status = StatusIdle
	c.mu.Unlock()

	if !wasActive {
		return nil
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	c.registry.Clear()

	err := c.platform.CancelDiscovery(ctx)
	c.events.Publish(events.TypeDiscoveryScanState, events.ScanStatePayload{Discovering: false})
	if err != nil {
		return fmt.Errorf("cancelling discovery: %w", err)
	}
	return nil
}

// Status returns the current scanning state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close stops discovery and the radio watch.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	radioSub := c.radioSub
	c.radioSub = nil
	c.mu.Unlock()

	if radioSub != nil {
		radioSub.Unsubscribe()
	}
	return c.StopDiscovery(ctx)
}

func copyFilter(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
