package bluez

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/scanlink/internal/bluetooth"
)

const fetchTimeout = 2 * time.Second

// deviceObjectPath converts "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// macFromPath extracts the address from a device path under adapter.
// Returns "" for paths that are not direct children of the adapter.
func macFromPath(adapter, path dbus.ObjectPath) string {
	prefix := string(adapter) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	rest := s[len(prefix):]
	if strings.Contains(rest, "/") {
		return ""
	}
	return strings.ReplaceAll(rest, "_", ":")
}

// peripheralFromProps builds a Peripheral from Device1 properties.
// Alias is used when the device has not reported a Name.
func peripheralFromProps(props map[string]dbus.Variant) (bluetooth.Peripheral, bool) {
	var p bluetooth.Peripheral
	addr, ok := props["Address"].Value().(string)
	if !ok || addr == "" {
		return p, false
	}
	p.Address = strings.ToUpper(addr)
	if name, ok := props["Name"].Value().(string); ok {
		p.Name = name
	} else if alias, ok := props["Alias"].Value().(string); ok && alias != strings.ReplaceAll(addr, ":", "-") {
		p.Name = alias
	}
	if paired, ok := props["Paired"].Value().(bool); ok {
		p.Bonded = paired
	}
	return p, true
}

func (a *Adapter) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	switch sig.Name {
	case propsIface + ".PropertiesChanged":
		a.handlePropertiesChanged(sig)
	case objManagerIface + ".InterfacesAdded":
		a.handleInterfacesAdded(sig)
	case objManagerIface + ".InterfacesRemoved":
		a.handleInterfacesRemoved(sig)
	}
}

func (a *Adapter) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if changed == nil {
		return
	}

	switch {
	case iface == adapterIface && sig.Path == a.path:
		a.handleAdapterChange(changed)
	case iface == deviceIface:
		if addr := macFromPath(a.path, sig.Path); addr != "" {
			a.handleDeviceChange(sig.Path, addr, changed)
		}
	}
}

func (a *Adapter) handleAdapterChange(changed map[string]dbus.Variant) {
	if v, ok := changed["Powered"].Value().(bool); ok {
		a.Emit(bluetooth.Event{Kind: bluetooth.EventRadioState, RadioOn: v})
	}
	if v, ok := changed["Discovering"].Value().(bool); ok {
		kind := bluetooth.EventDiscoveryFinished
		if v {
			kind = bluetooth.EventDiscoveryStarted
		}
		a.Emit(bluetooth.Event{Kind: kind})
	}
}

func (a *Adapter) handleDeviceChange(path dbus.ObjectPath, addr string, changed map[string]dbus.Variant) {
	if paired, ok := changed["Paired"].Value().(bool); ok {
		a.mu.Lock()
		inFlight := a.pairing[addr]
		a.mu.Unlock()
		// The Pair goroutine reports the outcome itself.
		if !inFlight {
			if paired {
				a.emitBond(addr, bluetooth.BondBonded, bluetooth.BondNone)
			} else {
				a.emitBond(addr, bluetooth.BondNone, bluetooth.BondBonded)
			}
		}
	}

	// RSSI updates mean the device was seen by the running inquiry.
	_, rssi := changed["RSSI"]
	_, name := changed["Name"]
	if !rssi && !name {
		return
	}
	if a.call == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	props, err := a.getAll(ctx, path, deviceIface)
	if err != nil {
		a.logger.Debug("bluez device props unavailable", "address", addr, "error", err)
		return
	}
	if p, ok := peripheralFromProps(props); ok {
		a.Emit(bluetooth.Event{Kind: bluetooth.EventDeviceFound, Peripheral: p})
	}
}

func (a *Adapter) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
	props, ok := ifaces[deviceIface]
	if !ok || macFromPath(a.path, path) == "" {
		return
	}
	p, ok := peripheralFromProps(props)
	if !ok {
		return
	}
	a.mu.Lock()
	a.bonded[p.Address] = p.Bonded
	a.mu.Unlock()
	a.notifyAppeared(p.Address)
	a.Emit(bluetooth.Event{Kind: bluetooth.EventDeviceFound, Peripheral: p})
}

func (a *Adapter) handleInterfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	removed, _ := sig.Body[1].([]string)
	addr := macFromPath(a.path, path)
	if addr == "" || !contains(removed, deviceIface) {
		return
	}

	a.mu.Lock()
	prev := bluetooth.BondNone
	if a.bonded[addr] {
		prev = bluetooth.BondBonded
	}
	delete(a.bonded, addr)
	a.mu.Unlock()

	a.Emit(bluetooth.Event{
		Kind:         bluetooth.EventBondState,
		Address:      addr,
		Bond:         bluetooth.BondNone,
		PreviousBond: prev,
	})
}
