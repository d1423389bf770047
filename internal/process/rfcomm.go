package process

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultRFCOMMBinary is looked up on PATH.
const DefaultRFCOMMBinary = "rfcomm"

// RFCOMMLink describes an SPP link bound to a tty.
type RFCOMMLink struct {
	// Binary is the rfcomm tool. Default: DefaultRFCOMMBinary.
	Binary string

	// Device is the tty path, e.g. /dev/rfcomm0.
	Device string

	// Address is the scanner's Bluetooth address.
	Address string

	// Channel is the RFCOMM channel. Default: 1.
	Channel int
}

// Spec returns the supervisor spec that keeps the link connected. The
// health check fails while the tty node is missing.
func (l RFCOMMLink) Spec() (Spec, error) {
	dev, err := rfcommIndex(l.Device)
	if err != nil {
		return Spec{}, err
	}
	if l.Address == "" {
		return Spec{}, fmt.Errorf("rfcomm link for %s: address is required", l.Device)
	}
	binary := l.Binary
	if binary == "" {
		binary = DefaultRFCOMMBinary
	}
	channel := l.Channel
	if channel <= 0 {
		channel = 1
	}

	device := l.Device
	return Spec{
		Name:   "rfcomm" + dev,
		Binary: binary,
		Args:   []string{"connect", dev, l.Address, strconv.Itoa(channel)},
		HealthCheck: func(context.Context) error {
			if _, err := os.Stat(device); err != nil {
				return fmt.Errorf("tty missing: %w", err)
			}
			return nil
		},
	}, nil
}

// rfcommIndex extracts the rfcomm device number from a /dev/rfcommN path.
func rfcommIndex(device string) (string, error) {
	n, ok := strings.CutPrefix(device, "/dev/rfcomm")
	if !ok || n == "" {
		return "", fmt.Errorf("%q is not an rfcomm device", device)
	}
	if _, err := strconv.Atoi(n); err != nil {
		return "", fmt.Errorf("%q is not an rfcomm device", device)
	}
	return n, nil
}
