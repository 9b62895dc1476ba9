package spi

import (
	"errors"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// DEFAULT_CS_PIN is the BCM GPIO the card's chip-select is wired to (SPI0 CE0).
const DEFAULT_CS_PIN = 8

// Rpio drives a card from a Raspberry Pi's BCM2835 SPI peripheral.
//
// The hardware chip-select toggles between every exchange call, but an SD
// card transaction spans many bytes, so CS is driven as a plain GPIO output
// and the peripheral is pointed at a chip-select line the card doesn't use.
type Rpio struct {
	dev    rpio.SpiDev
	cs     rpio.Pin
	fast   int
	buf    [1]byte
	closed bool
}

// ensure interface conformation
var _ Transport = (*Rpio)(nil)

func OpenRpio() (*Rpio, error) {
	return OpenRpioDevice(rpio.Spi0, DEFAULT_CS_PIN, FAST_SPEED)
}

func OpenRpioDevice(dev rpio.SpiDev, csPin uint8, fast int) (s *Rpio, err error) {
	err = rpio.Open()
	if err != nil {
		return
	}
	err = rpio.SpiBegin(dev)
	if err != nil {
		err = errors.Join(err, rpio.Close())
		return
	}
	// SpiBegin claims the CE pins for the peripheral; take ours back as GPIO.
	rpio.SpiChipSelect(2)
	rpio.SpiMode(0, 0)
	rpio.SpiSpeed(ClockInit.Hz(fast))
	cs := rpio.Pin(csPin)
	cs.Output()
	cs.High()
	s = &Rpio{dev: dev, cs: cs, fast: fast}
	return
}

func (s *Rpio) Exchange(b byte) (byte, error) {
	if s.closed {
		return 0xFF, ErrClosed
	}
	s.buf[0] = b
	rpio.SpiExchange(s.buf[:])
	return s.buf[0], nil
}

func (s *Rpio) Select(active bool) error {
	if s.closed {
		return ErrClosed
	}
	if active {
		s.cs.Low()
	} else {
		s.cs.High()
	}
	return nil
}

func (s *Rpio) SetClock(c Clock) error {
	if s.closed {
		return ErrClosed
	}
	rpio.SpiSpeed(c.Hz(s.fast))
	return nil
}

func (s *Rpio) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cs.High()
	rpio.SpiEnd(s.dev)
	return rpio.Close()
}
