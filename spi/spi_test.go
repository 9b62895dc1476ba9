package spi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"
	pspi "periph.io/x/conn/v3/spi"
)

func TestClockHz(t *testing.T) {
	assert.Equal(t, INIT_SPEED, ClockInit.Hz(0))
	assert.Equal(t, INIT_SPEED, ClockInit.Hz(25_000_000))
	assert.Equal(t, FAST_SPEED, ClockFast.Hz(0))
	assert.Equal(t, 25_000_000, ClockFast.Hz(25_000_000))
	assert.LessOrEqual(t, ClockInit.Hz(0), 400_000)
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "init", ClockInit.String())
	assert.Equal(t, "fast", ClockFast.String())
	assert.Equal(t, "Clock(7)", Clock(7).String())
}

type fakePin struct {
	gpio.PinOut
	level gpio.Level
	err   error
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	return p.err
}

type fakePort struct {
	pspi.PortCloser
	closed int
	err    error
}

func (p *fakePort) Close() error {
	p.closed++
	return p.err
}

func TestPeriphClose(t *testing.T) {
	pinErr, portErr := errors.New("pin stuck"), errors.New("port busy")
	pin, port := &fakePin{err: pinErr}, &fakePort{err: portErr}
	p := &Periph{name: "test", port: port, cs: pin}

	err := p.Close()
	assert.ErrorIs(t, err, pinErr)
	assert.ErrorIs(t, err, portErr)
	assert.Equal(t, gpio.High, pin.level)
	assert.Equal(t, 1, port.closed)
	assert.Nil(t, p.port)

	pin.err = nil
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, port.closed)
}

func TestPeriphSetClockCloseError(t *testing.T) {
	portErr := errors.New("port busy")
	port := &fakePort{err: portErr}
	p := &Periph{name: "test", port: port, cs: &fakePin{}}

	err := p.SetClock(ClockFast)
	assert.ErrorIs(t, err, portErr)
	assert.ErrorContains(t, err, `spi: close port "test"`)
	assert.Equal(t, 1, port.closed)
	assert.Nil(t, p.port)
}
