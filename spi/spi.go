// Package spi provides the byte-level SPI transport an SD card is driven over.
package spi

import "fmt"

// Clock selects one of the two bus speeds an SD card needs. Cards must be
// identified at 400 kHz or less and may be switched to a fast clock once
// initialization completes.
type Clock uint8

const (
	ClockInit Clock = iota
	ClockFast
)

const (
	INIT_SPEED = 400_000    // 400 kHz
	FAST_SPEED = 10_000_000 // 10 MHz
)

// Hz returns the bus frequency for the clock level. fast overrides
// FAST_SPEED when non-zero.
func (c Clock) Hz(fast int) int {
	if c == ClockInit {
		return INIT_SPEED
	}
	if fast <= 0 {
		return FAST_SPEED
	}
	return fast
}

func (c Clock) String() string {
	switch c {
	case ClockInit:
		return "init"
	case ClockFast:
		return "fast"
	default:
		return fmt.Sprintf("Clock(%d)", uint8(c))
	}
}

// Transport is a full-duplex SPI master with a software controlled
// chip-select line. Implementations never time out on their own; bounded
// waiting is the caller's job.
type Transport interface {
	// Exchange clocks one byte out and returns the byte clocked in.
	Exchange(b byte) (byte, error)
	// Select drives chip-select low when active is true and high otherwise.
	Select(active bool) error
	// SetClock reconfigures the bus frequency, keeping line state.
	SetClock(c Clock) error
}

var ErrClosed = fmt.Errorf("spi: transport closed")
