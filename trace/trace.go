// Package trace decodes captured SPI traffic between a host and an SD card
// into commands, responses and data blocks.
package trace

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/rabidaudio/sdspi/sdcard"
)

// Longest run of 0xFF polls searched for a response or token.
const MAX_POLL = 1000

// Block is one data packet following a command.
type Block struct {
	Token byte
	Data  []byte
	// Response is the data-response byte of a write packet.
	Response byte
}

// Accepted reports whether the card took a written block.
func (b Block) Accepted() bool {
	return b.Response&sdcard.DATA_RESPONSE_MASK == sdcard.DATA_OK
}

// Transaction is a command and everything the card sent back for it.
type Transaction struct {
	// Offset of the first frame byte in the stream.
	Offset int
	Index  byte
	App    bool
	Arg    uint32
	CRC    byte
	R1     sdcard.R1
	// Timeout is set when no response byte arrived.
	Timeout bool
	// Extra holds the trailing bytes of R3 and R7 responses.
	Extra  []byte
	Blocks []Block
}

func (t Transaction) Name() string {
	return sdcard.CommandName(t.Index, t.App)
}

func (t Transaction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v(0x%08x)", t.Name(), t.Arg)
	if t.Timeout {
		sb.WriteString(" timeout")
		return sb.String()
	}
	fmt.Fprintf(&sb, " r1=%v", t.R1)
	if len(t.Extra) > 0 {
		fmt.Fprintf(&sb, " resp=% x", t.Extra)
	}
	for _, b := range t.Blocks {
		switch {
		case b.Token == sdcard.TOKEN_STOP:
			sb.WriteString(" stop")
		case isWrite(t.Index):
			fmt.Fprintf(&sb, " [%d bytes resp=0x%02x]", len(b.Data), b.Response)
		default:
			fmt.Fprintf(&sb, " [%d bytes]", len(b.Data))
		}
	}
	return sb.String()
}

func isWrite(index byte) bool {
	return index == sdcard.CMD24 || index == sdcard.CMD25
}

func isFrameStart(b byte) bool {
	return b&0xC0 == 0x40
}

type decoder struct {
	mosi, miso []byte
	pos        int
}

func (d *decoder) more() bool {
	return d.pos < len(d.mosi)
}

// poll advances past host 0xFF bytes until the card sends a byte matching
// ok. It gives up at the next host byte that isn't a poll.
func (d *decoder) poll(ok func(byte) bool) (byte, bool) {
	for n := 0; n < MAX_POLL && d.more() && d.mosi[d.pos] == 0xFF; n++ {
		b := d.miso[d.pos]
		d.pos++
		if ok(b) {
			return b, true
		}
	}
	return 0xFF, false
}

func (d *decoder) take(src []byte, n int) []byte {
	end := min(d.pos+n, len(src))
	out := append([]byte(nil), src[d.pos:end]...)
	d.pos = end
	return out
}

// Decode splits a capture into transactions. mosi and miso must be the
// two directions of the same clocked bytes; any excess in the longer one
// is ignored.
func Decode(mosi, miso []byte) []Transaction {
	n := min(len(mosi), len(miso))
	d := &decoder{mosi: mosi[:n], miso: miso[:n]}

	var txs []Transaction
	app := false
	for d.more() {
		if !isFrameStart(d.mosi[d.pos]) || d.pos+6 > n {
			d.pos++
			continue
		}
		frame := d.mosi[d.pos : d.pos+6]
		tx := Transaction{
			Offset: d.pos,
			Index:  frame[0] & 0x3F,
			App:    app,
			Arg:    binary.BigEndian.Uint32(frame[1:5]),
			CRC:    frame[5],
		}
		d.pos += 6
		if tx.Index == sdcard.CMD12 && d.more() {
			// stuff byte
			d.pos++
		}
		r1, ok := d.poll(func(b byte) bool { return b&0x80 == 0 })
		tx.R1, tx.Timeout = sdcard.R1(r1), !ok
		if ok {
			d.decodePayload(&tx)
		}
		app = tx.Index == sdcard.CMD55 && ok && !tx.R1.Failed()
		txs = append(txs, tx)
	}
	return txs
}

func (d *decoder) decodePayload(tx *Transaction) {
	switch tx.Index {
	case sdcard.CMD8, sdcard.CMD58:
		if !tx.R1.IllegalCommand() {
			tx.Extra = d.take(d.miso, 4)
		}
		return
	}
	if tx.R1.Failed() || tx.App {
		return
	}
	switch tx.Index {
	case sdcard.CMD9, sdcard.CMD10:
		d.readBlocks(tx, 16, false)
	case sdcard.CMD17:
		d.readBlocks(tx, sdcard.BLOCK_SIZE, false)
	case sdcard.CMD18:
		d.readBlocks(tx, sdcard.BLOCK_SIZE, true)
	case sdcard.CMD24:
		d.writeBlocks(tx, false)
	case sdcard.CMD25:
		d.writeBlocks(tx, true)
	}
}

func (d *decoder) readBlocks(tx *Transaction, size int, multi bool) {
	for d.more() {
		if _, ok := d.poll(func(b byte) bool { return b == sdcard.TOKEN_START }); !ok {
			return
		}
		blk := Block{Token: sdcard.TOKEN_START, Data: d.take(d.miso, size)}
		d.take(d.miso, 2)
		tx.Blocks = append(tx.Blocks, blk)
		if !multi {
			return
		}
	}
}

func (d *decoder) writeBlocks(tx *Transaction, multi bool) {
	for d.more() {
		// skip not-busy polls
		for n := 0; n < MAX_POLL && d.more() && d.mosi[d.pos] == 0xFF; n++ {
			d.pos++
		}
		if !d.more() {
			return
		}
		token := d.mosi[d.pos]
		switch {
		case multi && token == sdcard.TOKEN_STOP:
			d.pos++
			tx.Blocks = append(tx.Blocks, Block{Token: token})
			return
		case multi && token == sdcard.TOKEN_MULTI_WRITE, !multi && token == sdcard.TOKEN_START:
			d.pos++
		default:
			// not a data packet: hand it back to the command scanner
			return
		}
		blk := Block{Token: token, Data: d.take(d.mosi, sdcard.BLOCK_SIZE)}
		d.take(d.mosi, 2)
		if d.more() {
			blk.Response = d.miso[d.pos]
			d.pos++
		}
		tx.Blocks = append(tx.Blocks, blk)
		if !multi {
			return
		}
	}
}
