package bluetooth

import (
	"context"
	"fmt"
	"regexp"
)

// BondState is the platform bond state of a remote device.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (s BondState) String() string {
	switch s {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return fmt.Sprintf("BondState(%d)", int(s))
	}
}

// EventKind identifies a platform notification.
type EventKind int

const (
	EventDeviceFound EventKind = iota
	EventDiscoveryStarted
	EventDiscoveryFinished
	EventRadioState
	EventBondState
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceFound:
		return "device_found"
	case EventDiscoveryStarted:
		return "discovery_started"
	case EventDiscoveryFinished:
		return "discovery_finished"
	case EventRadioState:
		return "radio_state"
	case EventBondState:
		return "bond_state"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Peripheral is a remote device as reported by the platform.
type Peripheral struct {
	Address string
	Name    string
	Bonded  bool
}

// Event is a platform notification. Which fields are set depends on Kind:
// Peripheral for EventDeviceFound, Address/Bond/PreviousBond for
// EventBondState, RadioOn for EventRadioState.
type Event struct {
	Kind         EventKind
	Peripheral   Peripheral
	Address      string
	Bond         BondState
	PreviousBond BondState
	RadioOn      bool
}

// Handler receives platform events. Handlers run on the platform's
// notification goroutine and must not block.
type Handler func(Event)

// Subscription is a registered Handler.
type Subscription interface {
	Unsubscribe()
}

// Platform is the host Bluetooth stack.
type Platform interface {
	// Enabled reports whether the radio is powered.
	Enabled(ctx context.Context) (bool, error)

	// RequestEnable asks the platform to power the radio. Completion is
	// reported as an EventRadioState notification.
	RequestEnable(ctx context.Context) error

	// StartDiscovery begins an inquiry scan. Returns ErrRadioOff when the
	// radio is powered down.
	StartDiscovery(ctx context.Context) error

	// CancelDiscovery stops an inquiry scan. Safe when none is running.
	CancelDiscovery(ctx context.Context) error

	// IsBonded reports whether a bond exists for address.
	IsBonded(ctx context.Context, address string) (bool, error)

	// CreateBond starts bonding. Progress is reported as EventBondState.
	CreateBond(ctx context.Context, address string) error

	// RemoveBond removes a bond. Completion is reported as EventBondState
	// with Bond == BondNone.
	RemoveBond(ctx context.Context, address string) error

	// Subscribe registers h for the given kinds, or for every kind when
	// none are given.
	Subscribe(h Handler, kinds ...EventKind) Subscription
}

var addressPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// ValidAddress reports whether s looks like AA:BB:CC:DD:EE:FF.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}
