package capture

import (
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/scanlink/internal/scanner"
)

// Property defaults used when a read fails.
const (
	DefaultScannerName = "Default Scanner"
	DefaultAddress     = "00:00:00:00:00:00"
	DefaultBattery     = scanner.BatteryUnknown
)

// Feedback field values.
const (
	FeedbackOff  = 0
	FeedbackGood = 1
	FeedbackBad  = 2
)

// FeedbackCommand combines rumble, tone and LED into one instruction.
// Each field is 0 (off), 1 (good) or 2 (bad).
type FeedbackCommand struct {
	Rumble uint8
	Tone   uint8
	LED    uint8
}

var (
	// PositiveFeedback is good rumble, good beep, green LED: 0b010101.
	PositiveFeedback = FeedbackCommand{Rumble: FeedbackGood, Tone: FeedbackGood, LED: FeedbackGood}

	// NegativeFeedback is bad rumble, bad beep, red LED: 0b101010.
	NegativeFeedback = FeedbackCommand{Rumble: FeedbackBad, Tone: FeedbackBad, LED: FeedbackBad}
)

// Encode packs the command as rumble<<4 | tone<<2 | led.
func (f FeedbackCommand) Encode() int {
	return int(f.Rumble)<<4 | int(f.Tone)<<2 | int(f.LED)
}

// DecodeBattery converts the packed battery property to a percentage.
//
// Byte 1 is the current level, byte 2 the minimum and byte 3 the maximum;
// the result is round(current*100/(max-min)). When max is not above min
// the level is unknown and ErrBatteryRange is returned with
// DefaultBattery.
func DecodeBattery(raw uint32) (int, error) {
	current := (raw >> 8) & 0xFF
	lo := (raw >> 16) & 0xFF
	hi := (raw >> 24) & 0xFF

	if hi <= lo {
		return DefaultBattery, fmt.Errorf("%w: min=%d max=%d", ErrBatteryRange, lo, hi)
	}
	return int(math.Round(float64(current) * 100 / float64(hi-lo))), nil
}

// EncodeBattery packs current, min and max the way the hardware reports
// them. Drivers that compute a level themselves use it to hand the value
// back in the common format.
func EncodeBattery(current, lo, hi uint8) uint32 {
	return uint32(current)<<8 | uint32(lo)<<16 | uint32(hi)<<24
}

// FormatAddress renders address bytes as uppercase two-digit hex joined
// with colons: [1 35 171 205] becomes "01:23:AB:CD".
func FormatAddress(parts []int) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", p)
	}
	return b.String()
}

// ParseAddress is the inverse of FormatAddress for well-formed input.
func ParseAddress(s string) ([]int, error) {
	fields := strings.Split(s, ":")
	out := make([]int, len(fields))
	for i, f := range fields {
		var v int
		if _, err := fmt.Sscanf(f, "%x", &v); err != nil || len(f) != 2 {
			return nil, fmt.Errorf("invalid address byte %q in %q", f, s)
		}
		out[i] = v
	}
	return out, nil
}
