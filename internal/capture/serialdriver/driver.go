package serialdriver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/scanlink/internal/capture"
)

// Source identifies serial scans: the tty carries no symbology.
const (
	SourceID   = 0
	SourceName = "Serial"
)

// DefaultPollInterval is how often a missing port is retried.
const DefaultPollInterval = 2 * time.Second

// Config configures the serial driver.
type Config struct {
	Port     string
	BaudRate int

	// Address is reported as the scanner's Bluetooth address. The tty
	// itself cannot tell us.
	Address string

	// Name is the initial friendly name. Renames are kept in memory.
	Name string

	PollInterval time.Duration
}

// Logger defines the logging interface used by the Driver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// OpenFunc opens the port. Tests substitute an in-memory port.
type OpenFunc func(name string, baud int) (io.ReadWriteCloser, error)

// Driver is a capture.Driver for a scanner in SPP mode bound to an RFCOMM
// tty. While a session is open it keeps trying to open the port; each
// successful open attaches one device, and a read failure detaches it.
type Driver struct {
	cfg    Config
	open   OpenFunc
	logger Logger

	mu       sync.Mutex
	listener capture.Listener
	onState  func(capture.ConnectionState)
	cancel   context.CancelFunc
	done     chan struct{}
	dev      *device
	name     string
}

var _ capture.Driver = (*Driver)(nil)

// New creates a serial driver. A nil open uses go.bug.st/serial with 8N1
// framing.
func New(cfg Config, open OpenFunc) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if open == nil {
		open = openSerial
	}
	name := cfg.Name
	if name == "" {
		name = capture.DefaultScannerName
	}
	return &Driver{
		cfg:    cfg,
		open:   open,
		logger: noopLogger{},
		name:   name,
	}
}

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger Logger) {
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

func (d *Driver) log() Logger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logger
}

func (d *Driver) SetListener(l capture.Listener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *Driver) getListener() capture.Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// Connect starts polling the port. The session is Ready as soon as the
// poll loop runs; the scanner itself attaches when the port opens.
func (d *Driver) Connect(ctx context.Context, onState func(capture.ConnectionState)) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return nil
	}
	if d.listener == nil {
		d.mu.Unlock()
		return errors.New("serialdriver: no listener set")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.onState = onState
	d.mu.Unlock()

	onState(capture.ConnConnecting)
	go d.loop(runCtx, done)
	onState(capture.ConnConnected)
	onState(capture.ConnReady)
	return nil
}

// Disconnect stops polling and closes the port.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	cancel, done, onState := d.cancel, d.done, d.onState
	d.mu.Unlock()
	if cancel == nil {
		return capture.ErrNotConnected
	}

	onState(capture.ConnDisconnecting)
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	onState(capture.ConnDisconnected)
	return nil
}

func (d *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	logger := d.log()
	failing := false
	for {
		port, err := d.open(d.cfg.Port, d.cfg.BaudRate)
		if err != nil {
			if !failing {
				logger.Debug("serial port not available", "port", d.cfg.Port, "error", err)
				failing = true
			}
		} else {
			failing = false
			logger.Info("serial port opened", "port", d.cfg.Port)
			d.serve(ctx, port)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// serve attaches a device for port and reads lines until the port fails
// or ctx ends.
func (d *Driver) serve(ctx context.Context, port io.ReadWriteCloser) {
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()
	defer port.Close()

	dev := &device{id: "serial:" + d.cfg.Port, drv: d}
	d.mu.Lock()
	d.dev = dev
	d.mu.Unlock()

	d.emitState(dev, capture.DeviceAvailable)

	sc := bufio.NewScanner(port)
	sc.Split(scanLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !dev.isOpen() {
			d.log().Debug("dropping scan from unopened device", "port", d.cfg.Port)
			continue
		}
		if l := d.getListener(); l != nil {
			l.OnData(dev, capture.ScanData{SourceID: SourceID, SourceName: SourceName, Data: line})
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	if ctx.Err() == nil {
		if l := d.getListener(); l != nil {
			l.OnError(&capture.DriverError{Kind: "read", Err: fmt.Errorf("%s: %w", d.cfg.Port, err)})
		}
	}

	d.mu.Lock()
	if d.dev == dev {
		d.dev = nil
	}
	d.mu.Unlock()
	dev.setOpen(false)

	d.emitState(dev, capture.DeviceGone)
}

func (d *Driver) emitState(dev *device, s capture.DeviceState) {
	if l := d.getListener(); l != nil {
		l.OnDeviceState(dev, s)
	}
}

// scanLines splits on CR, LF or CRLF.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		adv := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			adv++
		}
		return adv, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (d *Driver) friendlyName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Driver) setFriendlyName(name string) {
	d.mu.Lock()
	d.name = name
	d.mu.Unlock()
}

// device is the scanner behind an open port.
type device struct {
	id  string
	drv *Driver

	mu     sync.Mutex
	opened bool
}

func (v *device) ID() string { return v.id }

func (v *device) isOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opened
}

func (v *device) setOpen(open bool) {
	v.mu.Lock()
	v.opened = open
	v.mu.Unlock()
}

// Open marks the device ready. There is no handshake on a raw tty.
func (v *device) Open() error {
	v.drv.mu.Lock()
	current := v.drv.dev == v
	v.drv.mu.Unlock()
	if !current {
		return capture.ErrNotConnected
	}

	v.setOpen(true)
	v.drv.emitState(v, capture.DeviceReady)
	return nil
}

func (v *device) GetProperty(id capture.PropertyID, done func(capture.Property, error)) {
	switch id {
	case capture.PropertyFriendlyName:
		done(capture.Property{ID: id, String: v.drv.friendlyName()}, nil)
	case capture.PropertyBluetoothAddress:
		if v.drv.cfg.Address == "" {
			done(capture.Property{ID: id}, fmt.Errorf("%w: no address configured", capture.ErrUnsupported))
			return
		}
		parts, err := capture.ParseAddress(v.drv.cfg.Address)
		done(capture.Property{ID: id, Bytes: parts}, err)
	default:
		done(capture.Property{ID: id}, capture.ErrUnsupported)
	}
}

func (v *device) SetProperty(p capture.Property, done func(error)) {
	if p.ID != capture.PropertyFriendlyName {
		done(capture.ErrUnsupported)
		return
	}
	v.drv.setFriendlyName(p.String)
	done(nil)
}

// TriggerFeedback is unsupported: SPP scanners take no commands.
func (v *device) TriggerFeedback(int) error {
	return capture.ErrUnsupported
}
