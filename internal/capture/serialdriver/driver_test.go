package serialdriver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scanlink/internal/capture"
)

type pipePort struct {
	*io.PipeReader
}

func (pipePort) Write(p []byte) (int, error) { return len(p), nil }

// portSource hands out pipes in order and then fails every open.
type portSource struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	readers []*io.PipeReader
	opens   int
}

func newPortSource(n int) *portSource {
	s := &portSource{}
	for i := 0; i < n; i++ {
		r, w := io.Pipe()
		s.readers = append(s.readers, r)
		s.writers = append(s.writers, w)
	}
	return s
}

func (s *portSource) open(string, int) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opens >= len(s.readers) {
		return nil, errors.New("no such file or directory")
	}
	r := s.readers[s.opens]
	s.opens++
	return pipePort{r}, nil
}

type listener struct {
	mu     sync.Mutex
	states []capture.DeviceState
	data   []capture.ScanData
	errs   []error
	devs   []capture.Device
	open   bool
}

func (l *listener) OnData(_ capture.Device, d capture.ScanData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = append(l.data, d)
}

func (l *listener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *listener) OnDeviceState(dev capture.Device, s capture.DeviceState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.devs = append(l.devs, dev)
	open := l.open
	l.mu.Unlock()

	// Behave like the manager: open what becomes available.
	if open && s == capture.DeviceAvailable {
		go dev.Open()
	}
}

func (l *listener) snapshot() ([]capture.DeviceState, []capture.ScanData, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capture.DeviceState(nil), l.states...),
		append([]capture.ScanData(nil), l.data...),
		append([]error(nil), l.errs...)
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

func TestDriver_Lifecycle(t *testing.T) {
	ports := newPortSource(1)
	drv := New(Config{Port: "/dev/rfcomm0", BaudRate: 9600, PollInterval: 10 * time.Millisecond}, ports.open)
	l := &listener{open: true}
	drv.SetListener(l)

	var connStates []capture.ConnectionState
	var stateMu sync.Mutex
	onState := func(s capture.ConnectionState) {
		stateMu.Lock()
		connStates = append(connStates, s)
		stateMu.Unlock()
	}

	ctx := context.Background()
	if err := drv.Connect(ctx, onState); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, "device ready", func() bool {
		states, _, _ := l.snapshot()
		return len(states) >= 2 && states[1] == capture.DeviceReady
	})

	w := ports.writers[0]
	go io.WriteString(w, "4006381333931\r\n\r\nABC-123\nlast")
	waitFor(t, "two scans", func() bool {
		_, data, _ := l.snapshot()
		return len(data) == 2
	})

	w.CloseWithError(errors.New("rfcomm hangup"))
	waitFor(t, "device gone", func() bool {
		states, _, _ := l.snapshot()
		return len(states) == 3
	})

	states, data, errs := l.snapshot()
	wantStates := []capture.DeviceState{capture.DeviceAvailable, capture.DeviceReady, capture.DeviceGone}
	for i, s := range wantStates {
		if states[i] != s {
			t.Errorf("states[%d] = %v, want %v", i, states[i], s)
		}
	}
	for i, want := range []string{"4006381333931", "ABC-123"} {
		if data[i].Data != want || data[i].SourceName != SourceName || data[i].SourceID != SourceID {
			t.Errorf("data[%d] = %+v, want %q from %s", i, data[i], want, SourceName)
		}
	}
	// The unterminated tail is flushed when the read fails.
	if len(data) != 3 || data[2].Data != "last" {
		t.Errorf("scans = %+v, want the tail last", data)
	}
	if len(errs) != 1 {
		t.Fatalf("driver errors = %d, want 1", len(errs))
	}
	var de *capture.DriverError
	if !errors.As(errs[0], &de) || de.Kind != "read" {
		t.Errorf("error = %v, want read DriverError", errs[0])
	}

	if err := drv.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	stateMu.Lock()
	defer stateMu.Unlock()
	want := []capture.ConnectionState{
		capture.ConnConnecting, capture.ConnConnected, capture.ConnReady,
		capture.ConnDisconnecting, capture.ConnDisconnected,
	}
	if len(connStates) != len(want) {
		t.Fatalf("connection states = %v, want %v", connStates, want)
	}
	for i := range want {
		if connStates[i] != want[i] {
			t.Errorf("connection state[%d] = %v, want %v", i, connStates[i], want[i])
		}
	}
}

func TestDriver_ScansDroppedUntilOpened(t *testing.T) {
	ports := newPortSource(1)
	drv := New(Config{Port: "/dev/rfcomm0", BaudRate: 9600}, ports.open)
	l := &listener{}
	drv.SetListener(l)

	if err := drv.Connect(context.Background(), func(capture.ConnectionState) {}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer drv.Disconnect(context.Background())

	waitFor(t, "device available", func() bool {
		states, _, _ := l.snapshot()
		return len(states) == 1
	})
	if _, err := io.WriteString(ports.writers[0], "early\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The reader only asks for more once "early" has been handled.
	if _, err := io.WriteString(ports.writers[0], "\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	l.mu.Lock()
	dev := l.devs[0]
	l.mu.Unlock()
	if err := dev.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := io.WriteString(ports.writers[0], "late\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "late scan", func() bool {
		_, data, _ := l.snapshot()
		return len(data) == 1
	})
	if _, data, _ := l.snapshot(); data[0].Data != "late" {
		t.Errorf("data = %+v, want only late", data)
	}
}

func TestDriver_DisconnectDetachesWithoutError(t *testing.T) {
	ports := newPortSource(1)
	drv := New(Config{Port: "/dev/rfcomm0", BaudRate: 9600}, ports.open)
	l := &listener{open: true}
	drv.SetListener(l)
	ctx := context.Background()

	if err := drv.Connect(ctx, func(capture.ConnectionState) {}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "device ready", func() bool {
		states, _, _ := l.snapshot()
		return len(states) == 2
	})

	if err := drv.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	states, _, errs := l.snapshot()
	if len(states) != 3 || states[2] != capture.DeviceGone {
		t.Errorf("states = %v, want gone last", states)
	}
	if len(errs) != 0 {
		t.Errorf("errors on deliberate disconnect: %v", errs)
	}

	if err := drv.Disconnect(ctx); !errors.Is(err, capture.ErrNotConnected) {
		t.Errorf("second Disconnect() error = %v, want ErrNotConnected", err)
	}
}

func TestDriver_ConnectRequiresListener(t *testing.T) {
	drv := New(Config{Port: "/dev/null"}, newPortSource(0).open)
	if err := drv.Connect(context.Background(), func(capture.ConnectionState) {}); err == nil {
		t.Fatal("Connect() without listener succeeded")
	}
}

func TestDevice_Properties(t *testing.T) {
	drv := New(Config{Port: "/dev/rfcomm0", Address: "aa:bb:cc:00:00:01", Name: "Dock"}, nil)
	dev := &device{id: "serial:/dev/rfcomm0", drv: drv}

	get := func(id capture.PropertyID) (capture.Property, error) {
		var (
			p   capture.Property
			err error
		)
		dev.GetProperty(id, func(got capture.Property, e error) { p, err = got, e })
		return p, err
	}

	if p, err := get(capture.PropertyFriendlyName); err != nil || p.String != "Dock" {
		t.Errorf("friendly name = %q, %v", p.String, err)
	}
	p, err := get(capture.PropertyBluetoothAddress)
	if err != nil || capture.FormatAddress(p.Bytes) != "AA:BB:CC:00:00:01" {
		t.Errorf("address = %v, %v", p.Bytes, err)
	}
	if _, err := get(capture.PropertyBatteryLevel); !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("battery error = %v, want ErrUnsupported", err)
	}

	var setErr error
	dev.SetProperty(capture.Property{ID: capture.PropertyFriendlyName, String: "Bench"}, func(e error) { setErr = e })
	if setErr != nil {
		t.Fatalf("SetProperty() error = %v", setErr)
	}
	if p, _ := get(capture.PropertyFriendlyName); p.String != "Bench" {
		t.Errorf("friendly name after set = %q", p.String)
	}
	dev.SetProperty(capture.Property{ID: capture.PropertyBatteryLevel}, func(e error) { setErr = e })
	if !errors.Is(setErr, capture.ErrUnsupported) {
		t.Errorf("SetProperty(battery) error = %v", setErr)
	}

	if err := dev.TriggerFeedback(capture.PositiveFeedback.Encode()); !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("TriggerFeedback() error = %v, want ErrUnsupported", err)
	}

	noAddr := &device{drv: New(Config{}, nil)}
	noAddr.GetProperty(capture.PropertyBluetoothAddress, func(_ capture.Property, e error) { err = e })
	if !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("address without config error = %v", err)
	}
}

func TestScanLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\rb\nc\r\nd\r\r\ne"))
	sc.Split(scanLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	want := []string{"a", "b", "c", "d", "", "e"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("tokens = %q, want %q", got, want)
	}
}
