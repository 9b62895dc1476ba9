package spi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	pspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Periph drives a card through any SPI port periph.io knows about
// (spidev, FTDI bridges, ...), with chip-select on a separate GPIO.
type Periph struct {
	name string
	port pspi.PortCloser
	conn pspi.Conn
	cs   gpio.PinOut
	fast int
	w, r [1]byte
}

// ensure interface conformation
var _ Transport = (*Periph)(nil)

// OpenPeriph opens the SPI port registered as portName (empty for the
// first one) and the GPIO named csPin, e.g. "GPIO8".
func OpenPeriph(portName, csPin string, fast int) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spi: host init failed: %w", err)
	}
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("spi: failed to open chip-select pin %s", csPin)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("spi: release chip-select: %w", err)
	}
	p := &Periph{name: portName, cs: cs, fast: fast}
	if err := p.SetClock(ClockInit); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Periph) Exchange(b byte) (byte, error) {
	if p.conn == nil {
		return 0xFF, ErrClosed
	}
	p.w[0] = b
	if err := p.conn.Tx(p.w[:], p.r[:]); err != nil {
		return 0xFF, fmt.Errorf("spi: tx: %w", err)
	}
	return p.r[0], nil
}

func (p *Periph) Select(active bool) error {
	level := gpio.High
	if active {
		level = gpio.Low
	}
	return p.cs.Out(level)
}

// SetClock reopens the port: a periph.io port can only be connected once.
func (p *Periph) SetClock(c Clock) error {
	if p.port != nil {
		err := p.port.Close()
		p.port, p.conn = nil, nil
		if err != nil {
			return fmt.Errorf("spi: close port %q: %w", p.name, err)
		}
	}
	port, err := spireg.Open(p.name)
	if err != nil {
		return fmt.Errorf("spi: open port %q: %w", p.name, err)
	}
	freq := physic.Frequency(c.Hz(p.fast)) * physic.Hertz
	conn, err := port.Connect(freq, pspi.Mode0|pspi.NoCS, 8)
	if err != nil {
		return errors.Join(fmt.Errorf("spi: connect at %v: %w", freq, err), port.Close())
	}
	p.port, p.conn = port, conn
	return nil
}

func (p *Periph) Close() error {
	err := p.cs.Out(gpio.High)
	if err != nil {
		err = fmt.Errorf("spi: release chip select: %w", err)
	}
	if p.port != nil {
		err = errors.Join(err, p.port.Close())
		p.port, p.conn = nil, nil
	}
	return err
}
