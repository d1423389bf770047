package pairing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scanlink/internal/bluetooth"
	"github.com/nerrad567/scanlink/internal/bluetooth/bluetoothtest"
	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/events"
)

const (
	scannerA = "AA:BB:CC:00:00:01"
	scannerB = "AA:BB:CC:00:00:02"
)

type recorder struct {
	mu     sync.Mutex
	states []events.PairingPayload
}

func (r *recorder) Publish(eventType string, payload any) {
	if eventType != events.TypePairingState {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, payload.(events.PairingPayload))
}

func (r *recorder) all() []events.PairingPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.PairingPayload(nil), r.states...)
}

func (r *recorder) stateNames() []string {
	var out []string
	for _, s := range r.all() {
		out = append(out, s.State)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestOrchestrator(cfg Config) (*Orchestrator, *bluetoothtest.Platform, *recorder) {
	p := bluetoothtest.New()
	reg := device.NewRegistry()
	reg.Upsert(device.PeripheralRecord{Address: scannerA, Name: "Socket S700"}) //nolint:errcheck // valid address
	reg.Upsert(device.PeripheralRecord{Address: scannerB, Name: "Socket S740"}) //nolint:errcheck // valid address

	rec := &recorder{}
	o := NewOrchestrator(p, reg, rec, cfg)
	n := 0
	o.newID = func() string {
		n++
		return "attempt-" + string(rune('0'+n))
	}
	return o, p, rec
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPair_UnknownPeripheral(t *testing.T) {
	o, p, _ := newTestOrchestrator(Config{})

	_, err := o.Pair(context.Background(), "00:00:00:00:00:99")
	if !errors.Is(err, ErrUnknownPeripheral) {
		t.Fatalf("Pair() error = %v, want ErrUnknownPeripheral", err)
	}
	if len(p.CreateBondCalls()) != 0 {
		t.Error("CreateBond called for unknown peripheral")
	}
}

func TestPair_Success(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})

	id, err := o.Pair(context.Background(), "aa:bb:cc:00:00:01")
	if err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if id != "attempt-1" {
		t.Errorf("attempt id = %q", id)
	}
	if calls := p.CreateBondCalls(); len(calls) != 1 || calls[0] != scannerA {
		t.Errorf("CreateBond calls = %v", calls)
	}
	if cur, ok := o.Current(); !ok || cur.Address != scannerA {
		t.Errorf("Current() = %+v, %v", cur, ok)
	}

	p.Bond(scannerA, bluetooth.BondBonding)
	p.Bond(scannerA, bluetooth.BondBonding)
	p.Bond(scannerA, bluetooth.BondBonded)

	if got := rec.stateNames(); !equalStrings(got, []string{"bonding", "bonded"}) {
		t.Errorf("states = %v, want [bonding bonded]", got)
	}
	for _, s := range rec.all() {
		if s.AttemptID != id || s.Address != scannerA {
			t.Errorf("payload = %+v", s)
		}
	}
	if _, ok := o.Current(); ok {
		t.Error("guard not cleared after bonded")
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d after bonded, want 0", p.Len())
	}
}

func TestPair_BondRejected(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})

	if _, err := o.Pair(context.Background(), scannerA); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	p.Bond(scannerA, bluetooth.BondBonding)
	p.Bond(scannerA, bluetooth.BondNone)

	if got := rec.stateNames(); !equalStrings(got, []string{"bonding", "disconnected"}) {
		t.Errorf("states = %v, want [bonding disconnected]", got)
	}
	if len(p.CreateBondCalls()) != 1 {
		t.Errorf("CreateBond calls = %d, no retry expected", len(p.CreateBondCalls()))
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}
}

func TestPair_IgnoresOtherAddresses(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})

	if _, err := o.Pair(context.Background(), scannerA); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	p.Bond(scannerB, bluetooth.BondBonding)
	p.Bond(scannerB, bluetooth.BondBonded)

	if got := rec.all(); len(got) != 0 {
		t.Errorf("states for other address leaked: %+v", got)
	}
	if _, ok := o.Current(); !ok {
		t.Error("attempt resolved by another address's notification")
	}
}

func TestPair_SingleFlight(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})
	ctx := context.Background()

	if _, err := o.Pair(ctx, scannerA); err != nil {
		t.Fatalf("Pair(A) error = %v", err)
	}
	if _, err := o.Pair(ctx, scannerB); !errors.Is(err, ErrPairingInProgress) {
		t.Fatalf("Pair(B) error = %v, want ErrPairingInProgress", err)
	}
	if calls := p.CreateBondCalls(); len(calls) != 1 {
		t.Errorf("CreateBond calls = %v", calls)
	}

	p.Bond(scannerA, bluetooth.BondBonding)
	p.Bond(scannerA, bluetooth.BondBonded)

	if _, err := o.Pair(ctx, scannerB); err != nil {
		t.Fatalf("Pair(B) after A resolved error = %v", err)
	}
	p.Bond(scannerB, bluetooth.BondBonding)

	for i, s := range rec.all() {
		want := scannerA
		if i >= 2 {
			want = scannerB
		}
		if s.Address != want {
			t.Errorf("state %d for %s, want %s (interleaved)", i, s.Address, want)
		}
	}
}

func TestPair_RemovesStaleBondFirst(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{UnbondTimeout: time.Second})
	p.SetBonded(scannerA, true)
	p.AutoUnbond = true

	if _, err := o.Pair(context.Background(), scannerA); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}

	if calls := p.RemoveBondCalls(); len(calls) != 1 || calls[0] != scannerA {
		t.Errorf("RemoveBond calls = %v", calls)
	}
	if len(p.CreateBondCalls()) != 1 {
		t.Errorf("CreateBond calls = %v, want 1 after unbond", p.CreateBondCalls())
	}
	// Only the pairing listener remains; the unbond listener is gone.
	if p.Len() != 1 {
		t.Errorf("platform listeners = %d, want 1", p.Len())
	}
	if len(rec.all()) != 0 {
		t.Errorf("unexpected states during unbond: %v", rec.stateNames())
	}
}

func TestPair_UnbondTimeout(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{UnbondTimeout: 20 * time.Millisecond})
	p.SetBonded(scannerA, true)

	_, err := o.Pair(context.Background(), scannerA)
	if !errors.Is(err, ErrUnbondFailed) {
		t.Fatalf("Pair() error = %v, want ErrUnbondFailed", err)
	}
	if got := rec.stateNames(); !equalStrings(got, []string{"disconnected"}) {
		t.Errorf("states = %v, want [disconnected]", got)
	}
	if len(p.CreateBondCalls()) != 0 {
		t.Error("bond requested on top of a stale bond")
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d after timeout, want 0", p.Len())
	}
	if _, ok := o.Current(); ok {
		t.Error("guard not cleared after unbond failure")
	}
}

func TestPair_RemoveBondError(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})
	p.SetBonded(scannerA, true)
	p.RemoveBondErr = errors.New("rejected")

	if _, err := o.Pair(context.Background(), scannerA); !errors.Is(err, ErrUnbondFailed) {
		t.Fatalf("Pair() error = %v, want ErrUnbondFailed", err)
	}
	if got := rec.stateNames(); !equalStrings(got, []string{"disconnected"}) {
		t.Errorf("states = %v", got)
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}
}

func TestUnbond_ListenerReleasedBetweenAttempts(t *testing.T) {
	o, p, _ := newTestOrchestrator(Config{UnbondTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	p.SetBonded(scannerA, true)
	p.AutoUnbond = true

	if !o.unbond(ctx, scannerA) {
		t.Fatal("first unbond() = false, want true")
	}
	if p.Len() != 0 {
		t.Fatalf("platform listeners = %d after unbond, want 0", p.Len())
	}

	// The second attempt must not see the first attempt's notification.
	p.AutoUnbond = false
	if o.unbond(ctx, scannerA) {
		t.Error("second unbond() = true from a stale notification")
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d after timeout, want 0", p.Len())
	}
}

func TestUnbond_ContextCancelled(t *testing.T) {
	o, p, _ := newTestOrchestrator(Config{UnbondTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if o.unbond(ctx, scannerA) {
		t.Error("unbond() = true with cancelled context")
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}
}

func TestStopPairing_DuringBond(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})

	if _, err := o.Pair(context.Background(), scannerA); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	o.StopPairing()
	o.StopPairing()

	p.Bond(scannerA, bluetooth.BondBonded)

	if len(rec.all()) != 0 {
		t.Errorf("states after StopPairing: %v", rec.stateNames())
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}
	if _, err := o.Pair(context.Background(), scannerB); err != nil {
		t.Errorf("Pair() after StopPairing error = %v", err)
	}
}

func TestStopPairing_CancelsUnbondWait(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{UnbondTimeout: time.Minute})
	p.SetBonded(scannerA, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Pair(context.Background(), scannerA)
		errCh <- err
	}()

	waitFor(t, "RemoveBond", func() bool { return len(p.RemoveBondCalls()) == 1 })
	o.StopPairing()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPairingStopped) {
			t.Errorf("Pair() error = %v, want ErrPairingStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pair() did not return after StopPairing")
	}

	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}
	if len(rec.all()) != 0 {
		t.Errorf("states after stop: %v", rec.stateNames())
	}
	if len(p.CreateBondCalls()) != 0 {
		t.Error("bond requested after StopPairing")
	}
}

func TestPair_BondTimeout(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{BondTimeout: 20 * time.Millisecond})

	if _, err := o.Pair(context.Background(), scannerA); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	p.Bond(scannerA, bluetooth.BondBonding)

	waitFor(t, "disconnected", func() bool { return len(rec.all()) == 2 })
	if got := rec.stateNames(); !equalStrings(got, []string{"bonding", "disconnected"}) {
		t.Errorf("states = %v", got)
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}

	// A late bonded notification is ignored.
	p.Bond(scannerA, bluetooth.BondBonded)
	if len(rec.all()) != 2 {
		t.Errorf("late notification produced a state: %v", rec.stateNames())
	}
}

func TestPair_CreateBondError(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})
	p.CreateBondErr = errors.New("adapter busy")

	if _, err := o.Pair(context.Background(), scannerA); !errors.Is(err, ErrPairingFailed) {
		t.Fatalf("Pair() error = %v, want ErrPairingFailed", err)
	}
	if got := rec.stateNames(); !equalStrings(got, []string{"disconnected"}) {
		t.Errorf("states = %v", got)
	}
	if p.Len() != 0 {
		t.Errorf("platform listeners = %d, want 0", p.Len())
	}
}

func TestPair_BondQueryError(t *testing.T) {
	o, p, rec := newTestOrchestrator(Config{})
	p.BondQueryErr = errors.New("dbus timeout")

	if _, err := o.Pair(context.Background(), scannerA); !errors.Is(err, ErrPairingFailed) {
		t.Fatalf("Pair() error = %v, want ErrPairingFailed", err)
	}
	if got := rec.stateNames(); !equalStrings(got, []string{"disconnected"}) {
		t.Errorf("states = %v", got)
	}
}
