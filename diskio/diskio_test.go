package diskio

import (
	"testing"
	"time"

	"github.com/rabidaudio/sdspi/mock"
	"github.com/rabidaudio/sdspi/sdcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDrive(kind mock.Kind, size int64) (*Drive, *mock.Card) {
	card := mock.NewCard(kind, size)
	dev := sdcard.New(card, sdcard.Config{Sleep: func(time.Duration) {}})
	return NewDrive(dev, nil), card
}

func TestNotInitialized(t *testing.T) {
	d, card := newDrive(mock.SDHC, 1<<20)
	buf := make([]byte, SECTOR_SIZE)

	assert.Equal(t, StatusNoInit, d.Status(0))
	assert.Equal(t, ResultNotReady, d.Read(0, buf, 0, 1))
	assert.Equal(t, ResultNotReady, d.Write(0, buf, 0, 1))
	var n uint32
	assert.Equal(t, ResultNotReady, d.Ioctl(0, GetSectorCount, &n))
	assert.Empty(t, card.Commands)
}

func TestInitialize(t *testing.T) {
	d, _ := newDrive(mock.SDHC, 1<<20)
	assert.Equal(t, Status(0), d.Initialize(0))
	assert.Equal(t, Status(0), d.Status(0))
	assert.Equal(t, "ok", d.Status(0).String())

	assert.Equal(t, StatusNoInit, d.Initialize(1))
	assert.Equal(t, StatusNoInit, d.Status(1))
}

func TestInitializeFails(t *testing.T) {
	dev := sdcard.New(&mock.Stuck{Value: 0xFF}, sdcard.Config{
		Sleep:     func(time.Duration) {},
		IdleProbe: sdcard.RetryBudget{Attempts: 2},
	})
	d := NewDrive(dev, nil)
	assert.Equal(t, StatusNoInit, d.Initialize(0))
	assert.Equal(t, "noinit", d.Status(0).String())
}

func TestReadWrite(t *testing.T) {
	d, card := newDrive(mock.SDv2, 1<<20)
	require.Equal(t, Status(0), d.Initialize(0))

	src := make([]byte, 3*SECTOR_SIZE)
	for i := range src {
		src[i] = byte(i * 13)
	}
	assert.Equal(t, ResultOK, d.Write(0, src, 5, 3))
	assert.Equal(t, src, card.Image[5*SECTOR_SIZE:8*SECTOR_SIZE])

	dst := make([]byte, 3*SECTOR_SIZE)
	assert.Equal(t, ResultOK, d.Read(0, dst, 5, 3))
	assert.Equal(t, src, dst)

	assert.Equal(t, ResultOK, d.Read(0, dst, 6, 1))
	assert.Equal(t, src[SECTOR_SIZE:2*SECTOR_SIZE], dst[:SECTOR_SIZE])
}

func TestReadWriteParameters(t *testing.T) {
	d, _ := newDrive(mock.SDHC, 1<<20)
	require.Equal(t, Status(0), d.Initialize(0))
	buf := make([]byte, SECTOR_SIZE)

	assert.Equal(t, ResultParameter, d.Read(1, buf, 0, 1))
	assert.Equal(t, ResultParameter, d.Read(0, buf, 0, 0))
	assert.Equal(t, ResultParameter, d.Read(0, buf, 0, 2))
	assert.Equal(t, ResultParameter, d.Write(0, buf[:10], 0, 1))

	// count*SECTOR_SIZE wraps to zero
	huge := ^uint(0)/SECTOR_SIZE + 1
	assert.Equal(t, ResultParameter, d.Read(0, buf, 0, huge))
	assert.Equal(t, ResultParameter, d.Write(0, buf, 0, huge))
}

func TestReadErrors(t *testing.T) {
	d, card := newDrive(mock.SDHC, 1<<20)
	require.Equal(t, Status(0), d.Initialize(0))
	buf := make([]byte, SECTOR_SIZE)

	// past the end of the card
	assert.Equal(t, ResultError, d.Read(0, buf, 4096, 1))

	card.DataResponse = 0x0D
	assert.Equal(t, ResultError, d.Write(0, buf, 0, 1))
}

func TestIoctl(t *testing.T) {
	d, card := newDrive(mock.SDHC, 64<<20)
	require.Equal(t, Status(0), d.Initialize(0))

	assert.Equal(t, ResultOK, d.Ioctl(0, CtrlSync, nil))

	var count uint32
	assert.Equal(t, ResultOK, d.Ioctl(0, GetSectorCount, &count))
	assert.Equal(t, uint32(64<<20/512), count)

	var size uint16
	assert.Equal(t, ResultOK, d.Ioctl(0, GetSectorSize, &size))
	assert.Equal(t, uint16(512), size)

	var block uint32
	assert.Equal(t, ResultOK, d.Ioctl(0, GetBlockSize, &block))
	assert.Equal(t, uint32(128), block)

	var typ byte
	assert.Equal(t, ResultOK, d.Ioctl(0, MMCGetType, &typ))
	assert.Equal(t, byte(sdcard.TypeV2HC), typ)

	reg := make([]byte, 16)
	assert.Equal(t, ResultOK, d.Ioctl(0, MMCGetCSD, reg))
	assert.Equal(t, card.CSD[:], reg)
	assert.Equal(t, ResultOK, d.Ioctl(0, MMCGetCID, reg))
	assert.Equal(t, card.CID[:], reg)

	ocr := make([]byte, 4)
	assert.Equal(t, ResultOK, d.Ioctl(0, MMCGetOCR, ocr))
	assert.Equal(t, byte(0xC0), ocr[0])
}

func TestIoctlParameters(t *testing.T) {
	d, _ := newDrive(mock.SDHC, 1<<20)
	require.Equal(t, Status(0), d.Initialize(0))

	var count uint32
	var size uint16
	assert.Equal(t, ResultParameter, d.Ioctl(1, GetSectorCount, &count))
	assert.Equal(t, ResultParameter, d.Ioctl(0, GetSectorCount, &size))
	assert.Equal(t, ResultParameter, d.Ioctl(0, GetSectorSize, &count))
	assert.Equal(t, ResultParameter, d.Ioctl(0, GetSectorCount, nil))
	assert.Equal(t, ResultParameter, d.Ioctl(0, MMCGetCSD, make([]byte, 8)))
	assert.Equal(t, ResultParameter, d.Ioctl(0, MMCGetOCR, make([]byte, 2)))
	assert.Equal(t, ResultParameter, d.Ioctl(0, CtrlTrim, nil))
	assert.Equal(t, ResultParameter, d.Ioctl(0, Command(99), nil))
}

func TestResult(t *testing.T) {
	assert.NoError(t, ResultOK.Err())
	assert.EqualError(t, ResultNotReady.Err(), "diskio: RES_NOTRDY")
	assert.Equal(t, "Result(9)", Result(9).String())
	assert.Equal(t, "noinit|protect", (StatusNoInit | StatusProtect).String())
}

func TestFatTime(t *testing.T) {
	assert.Equal(t, uint32(44<<25|1<<21|1<<16|12<<11), FatTime())
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), UnpackFatTime(FatTime()))

	ts := time.Date(2031, 7, 19, 23, 58, 46, 0, time.UTC)
	assert.Equal(t, ts, UnpackFatTime(PackFatTime(ts)))

	// two second resolution
	odd := time.Date(2031, 7, 19, 23, 58, 47, 0, time.UTC)
	assert.Equal(t, ts, UnpackFatTime(PackFatTime(odd)))

	assert.Equal(t, 1980, UnpackFatTime(PackFatTime(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))).Year())
}
