// Package bluetoothtest provides a scriptable bluetooth.Platform for tests.
package bluetoothtest

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/scanlink/internal/bluetooth"
)

// Platform is an in-memory bluetooth.Platform. Tests drive notifications
// with the helper methods (Found, SetRadio, Bond, Emit) and inspect calls
// through the counters.
type Platform struct {
	bluetooth.Listeners

	mu      sync.Mutex
	radioOn bool
	bonded  map[string]bool

	enableRequests int
	startCalls     int
	cancelCalls    int
	createBond     []string
	removeBond     []string

	// Error injection. Set before use.
	StartErr      error
	CreateBondErr error
	RemoveBondErr error
	BondQueryErr  error

	// AutoUnbond makes RemoveBond report BondNone asynchronously after
	// UnbondDelay, like a real stack does.
	AutoUnbond  bool
	UnbondDelay time.Duration

	// AfterEnabledQuery runs after each Enabled call returns its answer,
	// letting tests change radio power in between.
	AfterEnabledQuery func()
}

var _ bluetooth.Platform = (*Platform)(nil)

// New returns a fake with the radio on and no bonds.
func New() *Platform {
	return &Platform{radioOn: true, bonded: make(map[string]bool)}
}

func (p *Platform) Enabled(context.Context) (bool, error) {
	p.mu.Lock()
	on, hook := p.radioOn, p.AfterEnabledQuery
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return on, nil
}

func (p *Platform) RequestEnable(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enableRequests++
	return nil
}

func (p *Platform) StartDiscovery(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	if !p.radioOn {
		return bluetooth.ErrRadioOff
	}
	return p.StartErr
}

func (p *Platform) CancelDiscovery(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	return nil
}

func (p *Platform) IsBonded(_ context.Context, address string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BondQueryErr != nil {
		return false, p.BondQueryErr
	}
	return p.bonded[address], nil
}

func (p *Platform) CreateBond(_ context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createBond = append(p.createBond, address)
	return p.CreateBondErr
}

func (p *Platform) RemoveBond(_ context.Context, address string) error {
	p.mu.Lock()
	p.removeBond = append(p.removeBond, address)
	err := p.RemoveBondErr
	auto, delay := p.AutoUnbond, p.UnbondDelay
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			p.Bond(address, bluetooth.BondNone)
		}()
	}
	return nil
}

func (p *Platform) Subscribe(h bluetooth.Handler, kinds ...bluetooth.EventKind) bluetooth.Subscription {
	return p.Add(h, kinds...)
}

// SetRadio changes radio power and emits EventRadioState.
func (p *Platform) SetRadio(on bool) {
	p.mu.Lock()
	p.radioOn = on
	p.mu.Unlock()
	p.Emit(bluetooth.Event{Kind: bluetooth.EventRadioState, RadioOn: on})
}

// PowerSilently changes radio power without a notification, as BlueZ does
// when Powered is set to the value it already has.
func (p *Platform) PowerSilently(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.radioOn = on
}

// SetBonded changes bond state silently.
func (p *Platform) SetBonded(address string, bonded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bonded[address] = bonded
}

// Bond moves address to state and emits EventBondState.
func (p *Platform) Bond(address string, state bluetooth.BondState) {
	p.mu.Lock()
	prev := bluetooth.BondNone
	if p.bonded[address] {
		prev = bluetooth.BondBonded
	}
	p.bonded[address] = state == bluetooth.BondBonded
	p.mu.Unlock()

	p.Emit(bluetooth.Event{
		Kind:         bluetooth.EventBondState,
		Address:      address,
		Bond:         state,
		PreviousBond: prev,
	})
}

// Found emits EventDeviceFound for a peripheral. The bonded flag comes
// from the fake's bond table.
func (p *Platform) Found(address, name string) {
	p.mu.Lock()
	bonded := p.bonded[address]
	p.mu.Unlock()

	p.Emit(bluetooth.Event{
		Kind:       bluetooth.EventDeviceFound,
		Peripheral: bluetooth.Peripheral{Address: address, Name: name, Bonded: bonded},
	})
}

// FinishDiscovery emits EventDiscoveryFinished.
func (p *Platform) FinishDiscovery() {
	p.Emit(bluetooth.Event{Kind: bluetooth.EventDiscoveryFinished})
}

func (p *Platform) EnableRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enableRequests
}

func (p *Platform) StartCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCalls
}

func (p *Platform) CancelCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelCalls
}

func (p *Platform) CreateBondCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.createBond...)
}

func (p *Platform) RemoveBondCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removeBond...)
}
