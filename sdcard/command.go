package sdcard

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Command indexes used in SPI mode. ACMDs must be preceded by CMD55.
const (
	CMD0   = 0  // GO_IDLE_STATE
	CMD1   = 1  // SEND_OP_COND (MMC)
	CMD8   = 8  // SEND_IF_COND
	CMD9   = 9  // SEND_CSD
	CMD10  = 10 // SEND_CID
	CMD12  = 12 // STOP_TRANSMISSION
	CMD16  = 16 // SET_BLOCKLEN
	CMD17  = 17 // READ_SINGLE_BLOCK
	CMD18  = 18 // READ_MULTIPLE_BLOCK
	ACMD23 = 23 // SET_WR_BLK_ERASE_COUNT
	CMD24  = 24 // WRITE_BLOCK
	CMD25  = 25 // WRITE_MULTIPLE_BLOCK
	ACMD41 = 41 // SD_SEND_OP_COND
	CMD55  = 55 // APP_CMD
	CMD58  = 58 // READ_OCR
)

const (
	// CRCs that must be correct: the card checks them before SPI mode is
	// entered. Everything else gets a dummy CRC.
	CRC_CMD0  = 0x95
	CRC_CMD8  = 0x87
	CRC_DUMMY = 0x01

	CMD8_ARG   = 0x1AA      // 2.7-3.6V, check pattern 0xAA
	ACMD41_HCS = 0x40000000 // host supports high capacity
)

// Data packet tokens and data-response codes.
const (
	TOKEN_START       = 0xFE
	TOKEN_MULTI_WRITE = 0xFC
	TOKEN_STOP        = 0xFD

	DATA_RESPONSE_MASK = 0x1F
	DATA_OK            = 0x05
	DATA_CRC_ERROR     = 0x0B
	DATA_WRITE_ERROR   = 0x0D
)

const BLOCK_SIZE = 512

// Frame builds the 6-byte command frame: start bits plus index, the
// argument big-endian, then the CRC byte.
func Frame(index byte, arg uint32, crc byte) [6]byte {
	return [6]byte{
		0x40 | index&0x3F,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		crc,
	}
}

// CommandName formats a command index the way the SD documentation does.
func CommandName(index byte, app bool) string {
	if app {
		return fmt.Sprintf("ACMD%d", index)
	}
	return fmt.Sprintf("CMD%d", index)
}

// command sends one command frame and returns its R1 response.
//
// A response that never arrives is reported as R1 0xFF together with
// ErrTimeout, so a card that set every error bit can still be told apart
// from one that said nothing.
func (d *Device) command(index byte, arg uint32, crc byte) (R1, error) {
	return d.send(index, false, arg, crc)
}

// appCommand sends CMD55 followed by the application command. The CMD55
// response is not checked; a card that doesn't know ACMDs rejects the
// second command too.
func (d *Device) appCommand(index byte, arg uint32) (R1, error) {
	if _, err := d.send(CMD55, false, 0, CRC_DUMMY); err != nil && !errors.Is(err, ErrTimeout) {
		return R1(0xFF), err
	}
	return d.send(index, true, arg, CRC_DUMMY)
}

func (d *Device) send(index byte, app bool, arg uint32, crc byte) (R1, error) {
	const noResponse = R1(0xFF)
	name := CommandName(index, app)

	// Release and reselect so the card sees a fresh transaction.
	if err := d.bus.Select(false); err != nil {
		return noResponse, err
	}
	d.cfg.Sleep(d.cfg.SettleDelay)
	if err := d.bus.Select(true); err != nil {
		return noResponse, err
	}

	if err := d.waitFor(d.cfg.BusIdle, 0xFF); err != nil {
		d.log.WithField("cmd", name).Warn("bus never went idle")
		return noResponse, fmt.Errorf("%v: wait for bus idle: %w", name, err)
	}

	frame := Frame(index, arg, crc)
	for _, b := range frame {
		if _, err := d.bus.Exchange(b); err != nil {
			return noResponse, err
		}
	}
	if index == CMD12 && !app {
		// The byte after STOP_TRANSMISSION is garbage.
		if _, err := d.bus.Exchange(0xFF); err != nil {
			return noResponse, err
		}
	}

	var r1 R1
	err := d.cfg.Response.run(d.cfg.Sleep, func() (bool, error) {
		b, err := d.bus.Exchange(0xFF)
		r1 = R1(b)
		return r1.Valid(), err
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			d.log.WithField("cmd", name).Warn("no response")
			err = fmt.Errorf("%v: wait for response: %w", name, err)
		}
		return noResponse, err
	}
	d.log.WithFields(logrus.Fields{
		"cmd": name,
		"arg": fmt.Sprintf("0x%08x", arg),
		"r1":  r1,
	}).Trace("command")
	return r1, nil
}

// expect turns a command result into an error unless the card answered
// with an all-clear R1.
func expect(index byte, app bool, r1 R1, err error) error {
	if err != nil {
		return err
	}
	if r1 != 0 {
		return &CommandError{Cmd: index, App: app, R1: r1}
	}
	return nil
}

// waitFor clocks 0xFF until the card shifts out want.
func (d *Device) waitFor(budget RetryBudget, want byte) error {
	return budget.run(d.cfg.Sleep, func() (bool, error) {
		b, err := d.bus.Exchange(0xFF)
		return b == want, err
	})
}

// receive clocks len(buf) bytes in.
func (d *Device) receive(buf []byte) (err error) {
	for i := range buf {
		buf[i], err = d.bus.Exchange(0xFF)
		if err != nil {
			return err
		}
	}
	return nil
}
