package trace

import (
	"testing"
	"time"

	"github.com/rabidaudio/sdspi/mock"
	"github.com/rabidaudio/sdspi/sdcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, kind mock.Kind) (*sdcard.Device, *mock.Card, *mock.Recorder) {
	t.Helper()
	card := mock.NewCard(kind, 1<<20)
	rec := mock.NewRecorder(card)
	d := sdcard.New(rec, sdcard.Config{Sleep: func(time.Duration) {}})
	return d, card, rec
}

func names(txs []Transaction) []string {
	var out []string
	for _, tx := range txs {
		out = append(out, tx.Name())
	}
	return out
}

func TestDecodeInit(t *testing.T) {
	d, _, rec := record(t, mock.SDHC)
	_, err := d.Init()
	require.NoError(t, err)

	txs := Decode(rec.Stream())
	require.Equal(t, []string{"CMD0", "CMD8", "CMD55", "ACMD41", "CMD58", "CMD16"}, names(txs))

	assert.Equal(t, sdcard.R1(0x01), txs[0].R1)
	assert.Equal(t, byte(0x95), txs[0].CRC)
	assert.Equal(t, uint32(0x1AA), txs[1].Arg)
	assert.Equal(t, byte(0x87), txs[1].CRC)
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0xAA}, txs[1].Extra)
	assert.Equal(t, uint32(0x40000000), txs[3].Arg)
	assert.Equal(t, sdcard.R1(0), txs[3].R1)
	assert.Equal(t, byte(0xC0), txs[4].Extra[0])
	assert.Equal(t, uint32(512), txs[5].Arg)
	for _, tx := range txs {
		assert.False(t, tx.Timeout, tx.String())
	}
	assert.Equal(t, "CMD8(0x000001aa) r1=0x01(idle) resp=00 00 01 aa", txs[1].String())
}

func TestDecodeLegacyInit(t *testing.T) {
	d, _, rec := record(t, mock.MMC)
	_, err := d.Init()
	require.NoError(t, err)

	txs := Decode(rec.Stream())
	require.Equal(t, []string{"CMD0", "CMD8", "CMD55", "CMD41", "CMD1", "CMD16"}, names(txs))
	assert.True(t, txs[1].R1.IllegalCommand())
	assert.Empty(t, txs[1].Extra)
}

func TestDecodeBlocks(t *testing.T) {
	d, card, rec := record(t, mock.SDv2)
	_, err := d.Init()
	require.NoError(t, err)
	for i := range card.Image[:4*sdcard.BLOCK_SIZE] {
		card.Image[i] = byte(i / 3)
	}
	rec.Reset()

	buf := make([]byte, 3*sdcard.BLOCK_SIZE)
	require.NoError(t, d.ReadBlocks(buf, 1, 3))
	require.NoError(t, d.ReadBlocks(buf, 2, 1))

	txs := Decode(rec.Stream())
	require.Equal(t, []string{"CMD18", "CMD12", "CMD17"}, names(txs))

	read := txs[0]
	assert.Equal(t, uint32(512), read.Arg)
	require.Len(t, read.Blocks, 3)
	for i, b := range read.Blocks {
		assert.Equal(t, byte(0xFE), b.Token)
		assert.Equal(t, card.Image[(i+1)*512:(i+2)*512], b.Data)
	}
	require.Len(t, txs[2].Blocks, 1)
	assert.Equal(t, card.Image[1024:1536], txs[2].Blocks[0].Data)
	assert.Equal(t, "CMD17(0x00000400) r1=0x00(ok) [512 bytes]", txs[2].String())
}

func TestDecodeWrites(t *testing.T) {
	d, _, rec := record(t, mock.SDHC)
	_, err := d.Init()
	require.NoError(t, err)
	rec.Reset()

	src := make([]byte, 2*sdcard.BLOCK_SIZE)
	for i := range src {
		src[i] = byte(i * 5)
	}
	require.NoError(t, d.WriteBlocks(src, 7, 2))
	require.NoError(t, d.WriteBlocks(src, 9, 1))

	txs := Decode(rec.Stream())
	require.Equal(t, []string{"CMD55", "ACMD23", "CMD25", "CMD24"}, names(txs))
	assert.Equal(t, uint32(2), txs[1].Arg)

	multi := txs[2]
	assert.Equal(t, uint32(7), multi.Arg)
	require.Len(t, multi.Blocks, 3)
	assert.Equal(t, byte(0xFC), multi.Blocks[0].Token)
	assert.Equal(t, src[:512], multi.Blocks[0].Data)
	assert.True(t, multi.Blocks[0].Accepted())
	assert.Equal(t, src[512:], multi.Blocks[1].Data)
	assert.Equal(t, byte(0xFD), multi.Blocks[2].Token)
	assert.Empty(t, multi.Blocks[2].Data)

	single := txs[3]
	require.Len(t, single.Blocks, 1)
	assert.Equal(t, byte(0xFE), single.Blocks[0].Token)
	assert.Equal(t, byte(0xE5), single.Blocks[0].Response)
	assert.Equal(t, "CMD24(0x00000009) r1=0x00(ok) [512 bytes resp=0xe5]", single.String())
}

func TestDecodeRefusedWrite(t *testing.T) {
	d, card, rec := record(t, mock.SDHC)
	_, err := d.Init()
	require.NoError(t, err)
	rec.Reset()
	card.DataResponse = 0x0D

	require.Error(t, d.WriteBlocks(make([]byte, 512), 0, 1))
	txs := Decode(rec.Stream())
	require.Len(t, txs, 1)
	require.Len(t, txs[0].Blocks, 1)
	assert.False(t, txs[0].Blocks[0].Accepted())
}

func TestDecodeTimeout(t *testing.T) {
	frame := sdcard.Frame(sdcard.CMD17, 0, sdcard.CRC_DUMMY)
	mosi := append(frame[:], 0xFF, 0xFF, 0xFF, 0xFF)
	miso := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

	txs := Decode(mosi, miso)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Timeout)
	assert.Equal(t, sdcard.R1(0xFF), txs[0].R1)
	assert.Equal(t, "CMD17(0x00000000) timeout", txs[0].String())
}

func TestDecodeTruncated(t *testing.T) {
	assert.Empty(t, Decode(nil, nil))
	assert.Empty(t, Decode([]byte{0x51, 0x00}, []byte{0xFF, 0xFF}))

	// uneven lengths are cut to the shorter
	frame := sdcard.Frame(sdcard.CMD0, 0, sdcard.CRC_CMD0)
	txs := Decode(append(frame[:], 0xFF, 0xFF, 0xFF), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	require.Len(t, txs, 1)
	assert.Equal(t, sdcard.R1(0x01), txs[0].R1)
}
