// Package diskio is the disk interface a FAT filesystem layer drives: the
// FatFs initialize/status/read/write/ioctl contract over an SD card.
package diskio

import (
	"errors"
	"fmt"
	"io"

	"github.com/rabidaudio/sdspi/sdcard"
	"github.com/sirupsen/logrus"
)

// Status is a bit set describing the drive.
type Status byte

const (
	StatusNoInit  Status = 0x01
	StatusNoDisk  Status = 0x02
	StatusProtect Status = 0x04
)

func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	var str string
	for _, f := range []struct {
		bit  Status
		name string
	}{{StatusNoInit, "noinit"}, {StatusNoDisk, "nodisk"}, {StatusProtect, "protect"}} {
		if s&f.bit != 0 {
			if str != "" {
				str += "|"
			}
			str += f.name
		}
	}
	return str
}

// Result is the outcome of a drive operation.
type Result int

const (
	ResultOK             Result = 0
	ResultError          Result = 1
	ResultWriteProtected Result = 2
	ResultNotReady       Result = 3
	ResultParameter      Result = 4
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "RES_OK"
	case ResultError:
		return "RES_ERROR"
	case ResultWriteProtected:
		return "RES_WRPRT"
	case ResultNotReady:
		return "RES_NOTRDY"
	case ResultParameter:
		return "RES_PARERR"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Err converts a non-OK result into an error.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return fmt.Errorf("diskio: %v", r)
}

// Command selects an Ioctl operation. The numbering is FatFs's.
type Command byte

const (
	CtrlSync       Command = 0
	GetSectorCount Command = 1
	GetSectorSize  Command = 2
	GetBlockSize   Command = 3
	CtrlTrim       Command = 4
	MMCGetType     Command = 10
	MMCGetCSD      Command = 11
	MMCGetCID      Command = 12
	MMCGetOCR      Command = 13
)

const SECTOR_SIZE = sdcard.BLOCK_SIZE

// Drive is physical drive 0, an SD card.
type Drive struct {
	dev    *sdcard.Device
	log    logrus.FieldLogger
	status Status
}

func NewDrive(dev *sdcard.Device, log logrus.FieldLogger) *Drive {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Drive{
		dev:    dev,
		log:    log.WithField("component", "diskio"),
		status: StatusNoInit,
	}
}

// Device returns the card behind the drive.
func (d *Drive) Device() *sdcard.Device {
	return d.dev
}

// Initialize (re)initializes the card and returns the resulting status.
func (d *Drive) Initialize(pdrv byte) Status {
	if pdrv != 0 {
		return StatusNoInit
	}
	typ, err := d.dev.Init()
	if err != nil {
		d.log.WithError(err).Error("disk_initialize")
		d.status = StatusNoInit
		return d.status
	}
	d.log.WithField("type", typ).Debug("disk_initialize")
	d.status = 0
	return d.status
}

func (d *Drive) Status(pdrv byte) Status {
	if pdrv != 0 {
		return StatusNoInit
	}
	return d.status
}

// Read reads count sectors starting at sector into buf.
func (d *Drive) Read(pdrv byte, buf []byte, sector uint32, count uint) Result {
	if res := d.check(pdrv, buf, count); res != ResultOK {
		return res
	}
	return d.result("disk_read", sector, d.dev.ReadBlocks(buf, sector, int(count)))
}

// Write writes count sectors from buf starting at sector.
func (d *Drive) Write(pdrv byte, buf []byte, sector uint32, count uint) Result {
	if res := d.check(pdrv, buf, count); res != ResultOK {
		return res
	}
	if d.status&StatusProtect != 0 {
		return ResultWriteProtected
	}
	return d.result("disk_write", sector, d.dev.WriteBlocks(buf, sector, int(count)))
}

func (d *Drive) check(pdrv byte, buf []byte, count uint) Result {
	if pdrv != 0 || count == 0 || count > uint(len(buf))/SECTOR_SIZE {
		return ResultParameter
	}
	if d.status&StatusNoInit != 0 {
		return ResultNotReady
	}
	return ResultOK
}

func (d *Drive) result(op string, sector uint32, err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, sdcard.ErrInvalidParameter):
		return ResultParameter
	case errors.Is(err, sdcard.ErrNotInitialized):
		return ResultNotReady
	}
	d.log.WithError(err).WithField("sector", sector).Error(op)
	return ResultError
}

// Ioctl runs a control command. arg must be the pointer or slice type the
// command documents:
//
//	CtrlSync        nil (ignored)
//	GetSectorCount  *uint32
//	GetSectorSize   *uint16
//	GetBlockSize    *uint32, erase block size in sectors
//	MMCGetType      *byte
//	MMCGetCSD       []byte, at least 16 bytes
//	MMCGetCID       []byte, at least 16 bytes
//	MMCGetOCR       []byte, at least 4 bytes
func (d *Drive) Ioctl(pdrv byte, cmd Command, arg any) Result {
	if pdrv != 0 {
		return ResultParameter
	}
	if d.status&StatusNoInit != 0 {
		return ResultNotReady
	}

	switch cmd {
	case CtrlSync:
		// writes complete before WriteBlocks returns
		return ResultOK
	case GetSectorCount:
		p, ok := arg.(*uint32)
		if !ok || p == nil {
			return ResultParameter
		}
		n, err := d.dev.SectorCount()
		if err != nil {
			return d.result("disk_ioctl", 0, err)
		}
		*p = n
		return ResultOK
	case GetSectorSize:
		p, ok := arg.(*uint16)
		if !ok || p == nil {
			return ResultParameter
		}
		*p = SECTOR_SIZE
		return ResultOK
	case GetBlockSize:
		p, ok := arg.(*uint32)
		if !ok || p == nil {
			return ResultParameter
		}
		info, err := d.dev.CardInfo()
		if err != nil {
			return d.result("disk_ioctl", 0, err)
		}
		*p = info.EraseBlockSectors()
		return ResultOK
	case MMCGetType:
		p, ok := arg.(*byte)
		if !ok || p == nil {
			return ResultParameter
		}
		*p = byte(d.dev.Type())
		return ResultOK
	case MMCGetCSD, MMCGetCID:
		buf, ok := arg.([]byte)
		if !ok || len(buf) < 16 {
			return ResultParameter
		}
		read := d.dev.ReadCSD
		if cmd == MMCGetCID {
			read = d.dev.ReadCID
		}
		reg, err := read()
		if err != nil {
			return d.result("disk_ioctl", 0, err)
		}
		copy(buf, reg[:])
		return ResultOK
	case MMCGetOCR:
		buf, ok := arg.([]byte)
		if !ok || len(buf) < 4 {
			return ResultParameter
		}
		ocr := d.dev.OCR()
		copy(buf, ocr[:])
		return ResultOK
	default:
		// CtrlTrim and anything unknown
		return ResultParameter
	}
}
