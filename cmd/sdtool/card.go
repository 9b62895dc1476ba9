package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rabidaudio/sdspi/diskio"
	"github.com/rabidaudio/sdspi/mock"
	"github.com/rabidaudio/sdspi/sdcard"
	"github.com/rabidaudio/sdspi/spi"
	"github.com/sirupsen/logrus"
	"github.com/stianeikeland/go-rpio/v4"
)

type options struct {
	transport string
	spidev    string
	cs        string
	speed     int
	image     string
	kind      string
	size      int64
	log       *logrus.Logger
}

func defaultOptions() *options {
	return &options{
		transport: "rpio",
		cs:        strconv.Itoa(spi.DEFAULT_CS_PIN),
		speed:     spi.FAST_SPEED,
		kind:      mock.SDHC.String(),
		size:      64 << 20,
	}
}

func (o *options) logger() *logrus.Logger {
	if o.log == nil {
		o.log = logrus.New()
		o.log.SetOutput(io.Discard)
	}
	return o.log
}

func (o *options) config() sdcard.Config {
	cfg := sdcard.Config{Logger: o.logger()}
	if o.transport == "mock" {
		// the emulator has no timing to wait out
		cfg.Sleep = func(time.Duration) {}
	}
	return cfg
}

// card is an opened transport and the device driving it.
type card struct {
	*sdcard.Device
	closefn func() error
}

func (c *card) Close() error {
	return c.closefn()
}

func parseKind(s string) (mock.Kind, error) {
	for _, k := range []mock.Kind{mock.MMC, mock.SDv1, mock.SDv2, mock.SDHC} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown card kind %q", s)
}

func (o *options) openTransport() (spi.Transport, func() error, error) {
	switch o.transport {
	case "rpio":
		dev := rpio.Spi0
		switch o.spidev {
		case "", "0":
		case "1":
			dev = rpio.Spi1
		case "2":
			dev = rpio.Spi2
		default:
			return nil, nil, fmt.Errorf("rpio: unknown spi device %q", o.spidev)
		}
		pin, err := strconv.ParseUint(o.cs, 10, 8)
		if err != nil {
			return nil, nil, fmt.Errorf("rpio: chip-select pin: %w", err)
		}
		bus, err := spi.OpenRpioDevice(dev, uint8(pin), o.speed)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	case "periph":
		cs := o.cs
		if _, err := strconv.Atoi(cs); err == nil {
			cs = "GPIO" + cs
		}
		bus, err := spi.OpenPeriph(o.spidev, cs, o.speed)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	case "mock":
		return o.openMock()
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", o.transport)
	}
}

// openMock emulates a card backed by the image file. The image is written
// back when the card is closed.
func (o *options) openMock() (spi.Transport, func() error, error) {
	kind, err := parseKind(o.kind)
	if err != nil {
		return nil, nil, err
	}
	size := o.size
	var data []byte
	if o.image != "" {
		data, err = os.ReadFile(o.image)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, nil, err
		default:
			size = int64(len(data))
		}
	}
	c := mock.NewCard(kind, size)
	copy(c.Image, data)
	o.logger().WithFields(logrus.Fields{"kind": kind, "size": size, "image": o.image}).Debug("emulating card")

	closefn := func() error {
		if o.image == "" {
			return nil
		}
		return os.WriteFile(o.image, c.Image, 0o644)
	}
	return c, closefn, nil
}

// open initializes the card.
func (o *options) open() (*card, error) {
	bus, closefn, err := o.openTransport()
	if err != nil {
		return nil, err
	}
	dev := sdcard.New(bus, o.config())
	if _, err := dev.Init(); err != nil {
		closefn()
		return nil, err
	}
	return &card{Device: dev, closefn: closefn}, nil
}

func (o *options) openDrive() (*diskio.Drive, func() error, error) {
	bus, closefn, err := o.openTransport()
	if err != nil {
		return nil, nil, err
	}
	drv := diskio.NewDrive(sdcard.New(bus, o.config()), o.logger())
	if st := drv.Initialize(0); st != 0 {
		closefn()
		return nil, nil, fmt.Errorf("disk_initialize: %v", st)
	}
	return drv, closefn, nil
}
