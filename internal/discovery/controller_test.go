package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/scanlink/internal/bluetooth"
	"github.com/nerrad567/scanlink/internal/bluetooth/bluetoothtest"
	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/events"
)

// recorder is an events.Publisher that keeps everything published.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events.Event{Type: eventType, Payload: payload})
}

func (r *recorder) ofType(t string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) lastSnapshot(t *testing.T) []device.PeripheralRecord {
	t.Helper()
	evs := r.ofType(events.TypeDiscoveryDevices)
	if len(evs) == 0 {
		t.Fatal("no discovery.devices event published")
	}
	return evs[len(evs)-1].Payload.(events.DevicesPayload).Devices
}

func newTestController() (*Controller, *bluetoothtest.Platform, *recorder) {
	p := bluetoothtest.New()
	rec := &recorder{}
	c := NewController(p, device.NewRegistry(), rec)
	// Restarts run inline so tests are deterministic.
	c.run = func(f func()) { f() }
	return c, p, rec
}

func strPtr(s string) *string { return &s }

func names(recs []device.PeripheralRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func TestStartDiscovery_RadioOn(t *testing.T) {
	c, p, _ := newTestController()

	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d, want 1", p.StartCalls())
	}
	if c.Status() != StatusScanning {
		t.Errorf("Status() = %q, want scanning", c.Status())
	}
	if p.EnableRequests() != 0 {
		t.Errorf("EnableRequests = %d, want 0", p.EnableRequests())
	}
}

func TestStartDiscovery_PlatformError(t *testing.T) {
	c, p, _ := newTestController()
	p.StartErr = errors.New("adapter busy")

	if err := c.StartDiscovery(context.Background(), nil); err == nil {
		t.Fatal("StartDiscovery() error = nil, want error")
	}
}

func TestDiscovery_SnapshotsExcludeBondedAndApplyFilter(t *testing.T) {
	c, p, rec := newTestController()
	p.SetBonded("00:00:00:00:00:02", true)

	if err := c.StartDiscovery(context.Background(), strPtr("Socket")); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}

	p.Found("00:00:00:00:00:01", "Socket S700")
	p.Found("00:00:00:00:00:02", "Socket S740") // bonded
	p.Found("00:00:00:00:00:03", "socket lowercase")
	p.Found("00:00:00:00:00:04", "Socket S800")

	if got := len(rec.ofType(events.TypeDiscoveryDevices)); got != 4 {
		t.Errorf("published %d snapshots, want one per add", got)
	}
	snap := rec.lastSnapshot(t)
	if got := names(snap); len(got) != 2 || got[0] != "Socket S700" || got[1] != "Socket S800" {
		t.Errorf("snapshot = %v, want [Socket S700 Socket S800]", got)
	}
	for _, r := range snap {
		if r.AlreadyBonded {
			t.Errorf("bonded peripheral %s published", r.Address)
		}
	}

	// Rediscovery updates in place and keeps first-discovery order.
	p.Found("00:00:00:00:00:01", "Socket S700 renamed")
	if got := names(rec.lastSnapshot(t)); got[0] != "Socket S700 renamed" || got[1] != "Socket S800" {
		t.Errorf("snapshot after rediscovery = %v", got)
	}
}

func TestDiscovery_NilFilterPassesAllUnbonded(t *testing.T) {
	c, p, rec := newTestController()
	p.SetBonded("00:00:00:00:00:02", true)

	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.Found("00:00:00:00:00:01", "Zebra")
	p.Found("00:00:00:00:00:02", "Bonded")
	p.Found("00:00:00:00:00:03", "")

	if got := names(rec.lastSnapshot(t)); len(got) != 2 || got[0] != "Zebra" || got[1] != "" {
		t.Errorf("snapshot = %v, want [Zebra \"\"]", got)
	}
}

func TestSetFilter_Republishes(t *testing.T) {
	c, p, rec := newTestController()
	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.Found("00:00:00:00:00:01", "Alpha")
	p.Found("00:00:00:00:00:02", "Beta")

	c.SetFilter(strPtr("Be"))
	if got := names(rec.lastSnapshot(t)); len(got) != 1 || got[0] != "Beta" {
		t.Errorf("snapshot after SetFilter = %v, want [Beta]", got)
	}
	if f := c.Filter(); f == nil || *f != "Be" {
		t.Errorf("Filter() = %v", f)
	}

	c.SetFilter(nil)
	if got := names(rec.lastSnapshot(t)); len(got) != 2 {
		t.Errorf("snapshot after clearing filter = %v", got)
	}
}

func TestStartDiscovery_RadioOffDefersScan(t *testing.T) {
	c, p, _ := newTestController()
	p.SetRadio(false)
	ctx := context.Background()

	if err := c.StartDiscovery(ctx, nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	if err := c.StartDiscovery(ctx, nil); err != nil {
		t.Fatalf("second StartDiscovery() error = %v", err)
	}

	if p.EnableRequests() != 1 {
		t.Errorf("EnableRequests = %d, want 1", p.EnableRequests())
	}
	if p.StartCalls() != 0 {
		t.Errorf("StartCalls = %d before radio on, want 0", p.StartCalls())
	}
	if c.Status() != StatusSearching {
		t.Errorf("Status() = %q, want searching", c.Status())
	}

	p.SetRadio(true)

	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d after radio on, want 1", p.StartCalls())
	}
	if c.Status() != StatusScanning {
		t.Errorf("Status() = %q, want scanning", c.Status())
	}
}

func TestStartDiscovery_RadioOnBeforeDeferral(t *testing.T) {
	c, p, _ := newTestController()
	p.SetRadio(false)
	// Power arrives, with its notification, right after the radio query
	// answered off.
	var once sync.Once
	p.AfterEnabledQuery = func() { once.Do(func() { p.SetRadio(true) }) }

	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}

	if c.Status() != StatusScanning {
		t.Errorf("Status() = %q, want scanning", c.Status())
	}
	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d, want 1", p.StartCalls())
	}

	// Restarts still work: the deferral did not leave the controller
	// waiting for the radio.
	p.FinishDiscovery()
	if p.StartCalls() != 2 {
		t.Errorf("StartCalls = %d after platform finished, want 2", p.StartCalls())
	}
}

func TestStartDiscovery_RadioOnWithoutNotification(t *testing.T) {
	c, p, _ := newTestController()
	p.SetRadio(false)
	var once sync.Once
	p.AfterEnabledQuery = func() { once.Do(func() { p.PowerSilently(true) }) }

	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}

	if p.EnableRequests() != 1 {
		t.Errorf("EnableRequests = %d, want 1", p.EnableRequests())
	}
	if c.Status() != StatusScanning {
		t.Errorf("Status() = %q, want scanning", c.Status())
	}
	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d, want 1", p.StartCalls())
	}
}

func TestDiscovery_RadioNeverComesOnIsNotAnError(t *testing.T) {
	c, p, _ := newTestController()
	p.SetRadio(false)

	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v, want nil", err)
	}
	if c.Status() != StatusSearching {
		t.Errorf("Status() = %q, want searching", c.Status())
	}
}

func TestDiscovery_RestartsWhenPlatformFinishes(t *testing.T) {
	c, p, rec := newTestController()
	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}

	p.FinishDiscovery()
	p.FinishDiscovery()

	if p.StartCalls() != 3 {
		t.Errorf("StartCalls = %d, want 3 (initial + two restarts)", p.StartCalls())
	}
	states := rec.ofType(events.TypeDiscoveryScanState)
	if len(states) != 2 || states[0].Payload.(events.ScanStatePayload).Discovering {
		t.Errorf("scan_state events = %+v", states)
	}
}

func TestDiscovery_RadioOnWhileScanningDoesNotRestart(t *testing.T) {
	c, p, _ := newTestController()
	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.SetRadio(true)
	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d, want 1", p.StartCalls())
	}
}

func TestStopDiscovery(t *testing.T) {
	c, p, rec := newTestController()
	ctx := context.Background()

	if err := c.StartDiscovery(ctx, nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.Found("00:00:00:00:00:01", "Alpha")

	if err := c.StopDiscovery(ctx); err != nil {
		t.Fatalf("StopDiscovery() error = %v", err)
	}

	if p.CancelCalls() != 1 {
		t.Errorf("CancelCalls = %d, want 1", p.CancelCalls())
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d after stop, want 0", p.Len())
	}
	if len(c.Devices()) != 0 {
		t.Errorf("Devices() = %v after stop, want empty", c.Devices())
	}
	if c.Status() != StatusIdle {
		t.Errorf("Status() = %q, want idle", c.Status())
	}

	published := len(rec.ofType(events.TypeDiscoveryDevices))
	p.Found("00:00:00:00:00:02", "Beta")
	p.FinishDiscovery()
	if got := len(rec.ofType(events.TypeDiscoveryDevices)); got != published {
		t.Error("snapshot published after StopDiscovery")
	}
	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d, scanning restarted after stop", p.StartCalls())
	}
}

func TestStopDiscovery_NeverStarted(t *testing.T) {
	c, p, _ := newTestController()
	if err := c.StopDiscovery(context.Background()); err != nil {
		t.Errorf("StopDiscovery() error = %v, want nil", err)
	}
	if p.CancelCalls() != 0 {
		t.Errorf("CancelCalls = %d, want 0", p.CancelCalls())
	}
}

func TestDiscovery_StaleGenerationNeverRestarts(t *testing.T) {
	c, p, _ := newTestController()
	ctx := context.Background()

	// Hold the restart instead of running it so it can race with Stop.
	var pending []func()
	c.run = func(f func()) { pending = append(pending, f) }

	if err := c.StartDiscovery(ctx, nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.FinishDiscovery()
	if err := c.StopDiscovery(ctx); err != nil {
		t.Fatalf("StopDiscovery() error = %v", err)
	}
	for _, f := range pending {
		f()
	}
	if p.StartCalls() != 1 {
		t.Errorf("StartCalls = %d, want 1: stale finish restarted scanning", p.StartCalls())
	}

	// A new run gets a new generation; the old restart stays dead.
	pending = nil
	if err := c.StartDiscovery(ctx, nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	if p.StartCalls() != 2 {
		t.Errorf("StartCalls = %d, want 2", p.StartCalls())
	}
}

func TestClearCache_KeepsScanning(t *testing.T) {
	c, p, rec := newTestController()
	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.Found("00:00:00:00:00:01", "Alpha")

	c.ClearCache()

	if p.CancelCalls() != 0 {
		t.Error("ClearCache cancelled the scan")
	}
	p.Found("00:00:00:00:00:02", "Beta")
	if got := names(rec.lastSnapshot(t)); len(got) != 1 || got[0] != "Beta" {
		t.Errorf("snapshot after ClearCache = %v, want [Beta]", got)
	}
}

func TestWatchRadio(t *testing.T) {
	c, p, rec := newTestController()
	c.WatchRadio()
	c.WatchRadio()

	p.SetRadio(false)
	p.SetRadio(true)

	radio := rec.ofType(events.TypeRadioState)
	if len(radio) != 2 {
		t.Fatalf("radio.state events = %d, want 2", len(radio))
	}
	if radio[0].Payload.(events.RadioStatePayload).Enabled || !radio[1].Payload.(events.RadioStatePayload).Enabled {
		t.Errorf("radio.state payloads = %+v", radio)
	}

	enabled, err := c.RadioEnabled(context.Background())
	if err != nil || !enabled {
		t.Errorf("RadioEnabled() = %v, %v", enabled, err)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	p.SetRadio(false)
	if len(rec.ofType(events.TypeRadioState)) != 2 {
		t.Error("radio.state published after Close")
	}
}

func TestDiscovery_InvalidPeripheralIgnored(t *testing.T) {
	c, p, rec := newTestController()
	if err := c.StartDiscovery(context.Background(), nil); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	p.Emit(bluetooth.Event{Kind: bluetooth.EventDeviceFound, Peripheral: bluetooth.Peripheral{Name: "no address"}})

	if len(rec.ofType(events.TypeDiscoveryDevices)) != 0 {
		t.Error("snapshot published for a peripheral without address")
	}
}
