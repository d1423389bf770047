package pairing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/scanlink/internal/bluetooth"
	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/events"
)

// State is the orchestrator's view of one pairing attempt.
type State string

const (
	StateIdle         State = "idle"
	StateBonding      State = "bonding"
	StateBonded       State = "bonded"
	StateDisconnected State = "disconnected"
)

const (
	// DefaultUnbondTimeout bounds the wait for a removed bond to be confirmed.
	DefaultUnbondTimeout = 10 * time.Second

	// DefaultBondTimeout bounds a bond that never resolves.
	DefaultBondTimeout = 60 * time.Second
)

// Config holds the orchestrator timeouts. Zero values take the defaults.
type Config struct {
	UnbondTimeout time.Duration
	BondTimeout   time.Duration
}

// Peripherals is the registry lookup the orchestrator needs.
type Peripherals interface {
	Contains(address string) bool
}

// Logger defines the logging interface used by the Orchestrator.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Attempt describes the pairing attempt in flight.
type Attempt struct {
	ID      string `json:"attempt_id"`
	Address string `json:"address"`
	State   State  `json:"state"`
}

// attempt is the single-flight guard. Exactly one may be current.
type attempt struct {
	id      string
	address string
	state   State

	ctx    context.Context
	cancel context.CancelFunc
	sub    bluetooth.Subscription
	timer  *time.Timer
}

// Orchestrator drives bond and unbond for one peripheral at a time.
//
// Progress is published as pairing.state events carrying the attempt ID.
// A terminal state (bonded or disconnected) returns the orchestrator to
// idle.
type Orchestrator struct {
	platform    bluetooth.Platform
	peripherals Peripherals
	events      events.Publisher
	logger      Logger
	cfg         Config
	newID       func() string

	mu      sync.Mutex
	current *attempt
}

// NewOrchestrator creates a pairing orchestrator.
func NewOrchestrator(platform bluetooth.Platform, peripherals Peripherals, publisher events.Publisher, cfg Config) *Orchestrator {
	if cfg.UnbondTimeout <= 0 {
		cfg.UnbondTimeout = DefaultUnbondTimeout
	}
	if cfg.BondTimeout <= 0 {
		cfg.BondTimeout = DefaultBondTimeout
	}
	return &Orchestrator{
		platform:    platform,
		peripherals: peripherals,
		events:      publisher,
		logger:      noopLogger{},
		cfg:         cfg,
		newID:       uuid.NewString,
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.mu.Lock()
	o.logger = logger
	o.mu.Unlock()
}

func (o *Orchestrator) log() Logger {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.logger
}

// Pair starts bonding with a discovered peripheral and returns the attempt
// ID. The outcome arrives as pairing.state events.
//
// A stale bond is removed first; if that fails the attempt ends as
// disconnected without requesting a new bond. Pair returns
// ErrPairingInProgress while another attempt is unresolved.
func (o *Orchestrator) Pair(ctx context.Context, address string) (string, error) {
	address = device.NormalizeAddress(address)
	if !o.peripherals.Contains(address) {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeripheral, address)
	}

	actx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:      o.newID(),
		address: address,
		state:   StateIdle,
		ctx:     actx,
		cancel:  cancel,
	}

	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		cancel()
		return "", ErrPairingInProgress
	}
	o.current = a
	logger := o.logger
	o.mu.Unlock()

	logger.Info("pairing started", "address", address, "attempt_id", a.id)

	bonded, err := o.platform.IsBonded(ctx, address)
	if err != nil {
		o.fail(a, "bond query failed", err)
		return a.id, fmt.Errorf("%w: %w", ErrPairingFailed, err)
	}

	if bonded {
		if !o.unbondFor(ctx, a) {
			if a.ctx.Err() != nil {
				return a.id, ErrPairingStopped
			}
			o.fail(a, "stale bond not removed", nil)
			return a.id, fmt.Errorf("%w: %s", ErrUnbondFailed, address)
		}
	}

	o.mu.Lock()
	if o.current != a {
		o.mu.Unlock()
		return a.id, ErrPairingStopped
	}
	a.sub = o.platform.Subscribe(func(e bluetooth.Event) {
		o.handleBond(a, e)
	}, bluetooth.EventBondState)
	a.timer = time.AfterFunc(o.cfg.BondTimeout, func() {
		o.bondTimedOut(a)
	})
	o.mu.Unlock()

	// CreateBond may report progress synchronously, so no lock is held.
	if err := o.platform.CreateBond(ctx, address); err != nil {
		o.fail(a, "bond request failed", err)
		return a.id, fmt.Errorf("%w: %w", ErrPairingFailed, err)
	}
	return a.id, nil
}

// unbondFor runs the unbond sub-operation for a, aborting if the caller's
// context ends or StopPairing cancels the attempt.
func (o *Orchestrator) unbondFor(ctx context.Context, a *attempt) bool {
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	return o.unbond(uctx, a.address)
}

// unbond removes an existing bond and waits up to UnbondTimeout for the
// platform to confirm it. The notification listener is released on every
// return path.
func (o *Orchestrator) unbond(ctx context.Context, address string) bool {
	gone := make(chan struct{}, 1)
	sub := o.platform.Subscribe(func(e bluetooth.Event) {
		if sameAddress(e.Address, address) && e.Bond == bluetooth.BondNone {
			select {
			case gone <- struct{}{}:
			default:
			}
		}
	}, bluetooth.EventBondState)
	defer sub.Unsubscribe()

	if err := o.platform.RemoveBond(ctx, address); err != nil {
		o.log().Warn("removing bond failed", "address", address, "error", err)
		return false
	}

	timer := time.NewTimer(o.cfg.UnbondTimeout)
	defer timer.Stop()

	select {
	case <-gone:
		return true
	case <-timer.C:
		o.log().Warn("timed out waiting for bond removal", "address", address, "timeout", o.cfg.UnbondTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) handleBond(a *attempt, e bluetooth.Event) {
	if !sameAddress(e.Address, a.address) {
		return
	}

	o.mu.Lock()
	if o.current != a {
		o.mu.Unlock()
		return
	}

	var next State
	switch e.Bond {
	case bluetooth.BondBonding:
		if a.state == StateBonding {
			o.mu.Unlock()
			return
		}
		a.state = StateBonding
		next = StateBonding
	case bluetooth.BondNone:
		// Only a failure once the bond is in flight.
		if a.state != StateBonding {
			o.mu.Unlock()
			return
		}
		next = StateDisconnected
		o.releaseLocked(a)
	case bluetooth.BondBonded:
		next = StateBonded
		o.releaseLocked(a)
	default:
		o.mu.Unlock()
		return
	}
	logger := o.logger
	o.mu.Unlock()

	if next != StateBonding {
		logger.Info("pairing finished", "address", a.address, "attempt_id", a.id, "state", string(next))
	}
	o.emit(a, next)
}

func (o *Orchestrator) bondTimedOut(a *attempt) {
	o.mu.Lock()
	if o.current != a {
		o.mu.Unlock()
		return
	}
	o.releaseLocked(a)
	logger := o.logger
	o.mu.Unlock()

	logger.Warn("bond did not resolve in time", "address", a.address, "attempt_id", a.id, "timeout", o.cfg.BondTimeout)
	o.emit(a, StateDisconnected)
}

// fail ends a still-current attempt as disconnected.
func (o *Orchestrator) fail(a *attempt, reason string, err error) {
	o.mu.Lock()
	if o.current != a {
		o.mu.Unlock()
		return
	}
	o.releaseLocked(a)
	logger := o.logger
	o.mu.Unlock()

	if err != nil {
		logger.Warn("pairing failed", "address", a.address, "attempt_id", a.id, "reason", reason, "error", err)
	} else {
		logger.Warn("pairing failed", "address", a.address, "attempt_id", a.id, "reason", reason)
	}
	o.emit(a, StateDisconnected)
}

// releaseLocked clears the guard and every resource the attempt holds.
func (o *Orchestrator) releaseLocked(a *attempt) {
	if o.current == a {
		o.current = nil
	}
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.cancel()
}

func (o *Orchestrator) emit(a *attempt, s State) {
	o.events.Publish(events.TypePairingState, events.PairingPayload{
		Address:   a.address,
		State:     string(s),
		AttemptID: a.id,
	})
}

// StopPairing abandons the current attempt: its listeners are released,
// any unbond wait is cancelled and the guard is cleared. It is a no-op
// when nothing is pairing.
func (o *Orchestrator) StopPairing() {
	o.mu.Lock()
	a := o.current
	if a != nil {
		o.releaseLocked(a)
	}
	logger := o.logger
	o.mu.Unlock()

	if a != nil {
		logger.Info("pairing stopped", "address", a.address, "attempt_id", a.id)
	}
}

// Current returns the unresolved attempt, if any.
func (o *Orchestrator) Current() (Attempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Attempt{}, false
	}
	return Attempt{ID: o.current.id, Address: o.current.address, State: o.current.state}, true
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
