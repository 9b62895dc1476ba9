// Package sdcard drives an SD or MMC card over SPI: the command protocol,
// card identification, block reads and writes, and CSD/CID decoding.
//
// A Device is the sole owner of its transport and is not safe for
// concurrent use.
package sdcard

import (
	"errors"
	"fmt"

	"github.com/rabidaudio/sdspi/spi"
	"github.com/sirupsen/logrus"
)

type Device struct {
	bus spi.Transport
	cfg Config
	log logrus.FieldLogger

	typ   CardType
	ocr   [4]byte
	ready bool
}

func New(bus spi.Transport, cfg Config) *Device {
	cfg = cfg.withDefaults()
	return &Device{
		bus: bus,
		cfg: cfg,
		log: cfg.Logger.WithField("component", "sdcard"),
	}
}

// Type returns the card type found by the last Init.
func (d *Device) Type() CardType {
	return d.typ
}

// OCR returns the operating conditions register read during Init. Only
// SD version 2 cards report it; it is zero otherwise.
func (d *Device) OCR() [4]byte {
	return d.ocr
}

func (d *Device) Ready() bool {
	return d.ready
}

// Init brings the card from power-on to data transfer mode and resolves
// its type. It can be called again at any time to start over.
func (d *Device) Init() (CardType, error) {
	d.typ, d.ocr, d.ready = TypeUnknown, [4]byte{}, false

	if err := d.bus.SetClock(spi.ClockInit); err != nil {
		return TypeUnknown, err
	}
	if err := d.bus.Select(false); err != nil {
		return TypeUnknown, err
	}
	d.cfg.Sleep(d.cfg.PowerUpDelay)
	for i := 0; i < d.cfg.DummyBytes; i++ {
		if _, err := d.bus.Exchange(0xFF); err != nil {
			return TypeUnknown, err
		}
	}

	typ, err := d.identify()
	if serr := d.bus.Select(false); err == nil {
		err = serr
	}
	if err != nil {
		d.log.WithError(err).Warn("card initialization failed")
		return TypeUnknown, err
	}
	if err := d.bus.SetClock(spi.ClockFast); err != nil {
		return TypeUnknown, err
	}
	d.typ, d.ready = typ, true
	d.log.WithField("type", typ).Info("card ready")
	return typ, nil
}

func (d *Device) identify() (CardType, error) {
	err := d.cfg.IdleProbe.run(d.cfg.Sleep, func() (bool, error) {
		r1, err := d.command(CMD0, 0, CRC_CMD0)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return false, err
		}
		return r1 == R1_IDLE, nil
	})
	if err != nil {
		return TypeUnknown, fmt.Errorf("%w: card never entered idle state: %w", ErrInitFailed, err)
	}
	d.log.Debug("card idle")

	r1, err := d.command(CMD8, CMD8_ARG, CRC_CMD8)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return TypeUnknown, err
	}
	if err == nil && r1 == R1_IDLE {
		var echo [4]byte
		if err := d.receive(echo[:]); err != nil {
			return TypeUnknown, err
		}
		if echo[2] == 0x01 && echo[3] == 0xAA {
			return d.identifySD2()
		}
		d.log.WithField("echo", fmt.Sprintf("% x", echo)).Debug("voltage check pattern mismatch")
	}
	return d.identifyLegacy()
}

func (d *Device) identifySD2() (CardType, error) {
	d.log.Debug("SD version 2 card, negotiating operating conditions")
	err := d.cfg.Negotiation.run(d.cfg.Sleep, func() (bool, error) {
		r1, err := d.appCommand(ACMD41, ACMD41_HCS)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return false, err
		}
		return err == nil && r1 == 0, nil
	})
	if err != nil {
		return TypeUnknown, fmt.Errorf("%w: %v never completed: %w", ErrInitFailed, CommandName(ACMD41, true), err)
	}

	r1, err := d.command(CMD58, 0, CRC_DUMMY)
	if err = expect(CMD58, false, r1, err); err != nil {
		return TypeUnknown, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	if err := d.receive(d.ocr[:]); err != nil {
		return TypeUnknown, err
	}
	typ := TypeV2
	if d.ocr[0]&0x40 != 0 {
		typ = TypeV2HC
	}
	return d.setBlockLength(typ)
}

// identifyLegacy tells SD version 1 cards from MMC by whether they accept
// ACMD41 at all.
func (d *Device) identifyLegacy() (CardType, error) {
	typ := TypeV1
	step := func() (R1, error) { return d.appCommand(ACMD41, 0) }

	r1, err := step()
	if err != nil && !errors.Is(err, ErrTimeout) {
		return TypeUnknown, err
	}
	if err != nil || r1 > R1_IDLE {
		typ = TypeMMC
		step = func() (R1, error) { return d.command(CMD1, 0, CRC_DUMMY) }
		r1 = R1_IDLE
	}
	d.log.WithField("type", typ).Debug("legacy card, waiting to leave idle state")

	if r1 != 0 {
		err = d.cfg.Negotiation.run(d.cfg.Sleep, func() (bool, error) {
			r1, err := step()
			if err != nil && !errors.Is(err, ErrTimeout) {
				return false, err
			}
			return err == nil && r1 == 0, nil
		})
		if err != nil {
			return TypeUnknown, fmt.Errorf("%w: %v card never left idle state: %w", ErrInitFailed, typ, err)
		}
	}
	return d.setBlockLength(typ)
}

// setBlockLength forces 512 byte blocks. High capacity cards have a fixed
// block length, so their answer is only logged.
func (d *Device) setBlockLength(typ CardType) (CardType, error) {
	r1, err := d.command(CMD16, BLOCK_SIZE, CRC_DUMMY)
	err = expect(CMD16, false, r1, err)
	if err == nil {
		return typ, nil
	}
	if typ == TypeV2HC {
		d.log.WithError(err).Debug("ignoring block length result for high capacity card")
		return typ, nil
	}
	return TypeUnknown, fmt.Errorf("%w: %w", ErrInitFailed, err)
}

func (d *Device) checkReady() error {
	if !d.ready {
		return ErrNotInitialized
	}
	return nil
}

// address converts a sector number to a command argument: high capacity
// cards are block addressed, everything else byte addressed.
func (d *Device) address(sector uint32) uint32 {
	if d.typ == TypeV2HC {
		return sector
	}
	return sector * BLOCK_SIZE
}
