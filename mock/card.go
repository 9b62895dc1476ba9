// Package mock emulates SD cards on the SPI wire for tests and for running
// the tools without hardware.
package mock

import (
	"encoding/binary"
	"fmt"

	"github.com/rabidaudio/sdspi/spi"
)

// Kind is the card family the emulator answers as.
type Kind uint8

const (
	MMC Kind = iota + 1
	SDv1
	SDv2
	SDHC
)

func (k Kind) String() string {
	switch k {
	case MMC:
		return "mmc"
	case SDv1:
		return "sdv1"
	case SDv2:
		return "sdv2"
	case SDHC:
		return "sdhc"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const SECTOR_SIZE = 512

// Command is one command frame the card decoded.
type Command struct {
	Index byte
	Arg   uint32
	App   bool
}

func (c Command) String() string {
	if c.App {
		return fmt.Sprintf("ACMD%d(%#x)", c.Index, c.Arg)
	}
	return fmt.Sprintf("CMD%d(%#x)", c.Index, c.Arg)
}

type state uint8

const (
	stateCommand state = iota
	stateReadMulti
	stateWriteSingle
	stateWriteMulti
	stateWriteData
)

// Card answers the SPI-mode SD protocol byte by byte on top of an in-memory
// image. Exported fields may be changed between operations to script
// misbehaviour.
type Card struct {
	Kind  Kind
	Image []byte
	CSD   [16]byte
	CID   [16]byte

	// IdleRounds is how many ACMD41/CMD1 polls still answer "idle".
	IdleRounds int
	// BlockLenResponse is ORed into the CMD16 response.
	BlockLenResponse byte
	// DataResponse replaces the data-response byte of write packets when
	// non-zero.
	DataResponse byte
	// TokenDelay is the number of 0xFF bytes sent before each data token.
	TokenDelay int
	// BusyBytes is how long the card holds MISO low after a write.
	BusyBytes int

	Commands    []Command
	Packets     int // write packets received
	DummyClocks int // bytes clocked while deselected
	Clocks      []spi.Clock
	Selected    bool

	frame  []byte
	app    bool
	idle   bool
	rounds int
	out    []byte
	busy   int
	state  state
	multi  bool
	offset int64
	data   []byte
}

// ensure interface conformation
var _ spi.Transport = (*Card)(nil)

// NewCard returns a card of the given kind with a zeroed image of size
// bytes and registers describing it.
func NewCard(kind Kind, size int64) *Card {
	sectors := uint32(size / SECTOR_SIZE)
	c := &Card{
		Kind:       kind,
		Image:      make([]byte, sectors*SECTOR_SIZE),
		CID:        DefaultCID,
		TokenDelay: 1,
		BusyBytes:  2,
	}
	if kind == SDHC {
		c.CSD = CSDv2(sectors)
	} else {
		c.CSD = CSDv1(sectors)
		if kind == MMC {
			// CSD_STRUCTURE 2: MMC version 1.2
			c.CSD[0] = 0x90
		}
	}
	return c
}

func (c *Card) Exchange(b byte) (byte, error) {
	if !c.Selected {
		if b == 0xFF {
			c.DummyClocks++
		}
		return 0xFF, nil
	}
	out := c.next()
	c.accept(b)
	return out, nil
}

// Select releases any pending output when the card is deselected, the way
// MISO floats high on a real bus.
func (c *Card) Select(active bool) error {
	if !active && c.Selected {
		c.out = c.out[:0]
		c.frame = c.frame[:0]
		c.state = stateCommand
	}
	c.Selected = active
	return nil
}

func (c *Card) SetClock(clk spi.Clock) error {
	c.Clocks = append(c.Clocks, clk)
	return nil
}

// Indexes returns the indexes of every command received, in order.
func (c *Card) Indexes() []byte {
	idx := make([]byte, len(c.Commands))
	for i, cmd := range c.Commands {
		idx[i] = cmd.Index
	}
	return idx
}

// Sent reports whether a command with the given index was received.
func (c *Card) Sent(index byte, app bool) bool {
	for _, cmd := range c.Commands {
		if cmd.Index == index && cmd.App == app {
			return true
		}
	}
	return false
}

func (c *Card) next() byte {
	if len(c.out) == 0 && c.busy == 0 && c.state == stateReadMulti {
		c.queueBlock()
	}
	if len(c.out) > 0 {
		o := c.out[0]
		c.out = c.out[1:]
		return o
	}
	if c.busy > 0 {
		c.busy--
		return 0x00
	}
	return 0xFF
}

func (c *Card) accept(b byte) {
	switch c.state {
	case stateWriteSingle, stateWriteMulti:
		switch {
		case c.state == stateWriteSingle && b == 0xFE,
			c.state == stateWriteMulti && b == 0xFC:
			c.multi = c.state == stateWriteMulti
			c.state = stateWriteData
			c.data = c.data[:0]
		case c.state == stateWriteMulti && b == 0xFD:
			c.state = stateCommand
			c.busy = c.BusyBytes
		}
		return
	case stateWriteData:
		c.data = append(c.data, b)
		if len(c.data) == SECTOR_SIZE+2 {
			c.finishWrite()
		}
		return
	}

	if len(c.frame) == 0 && b&0xC0 != 0x40 {
		return
	}
	c.frame = append(c.frame, b)
	if len(c.frame) == 6 {
		c.execute(c.frame[0]&0x3F, binary.BigEndian.Uint32(c.frame[1:5]))
		c.frame = c.frame[:0]
	}
}

func (c *Card) r1() byte {
	if c.idle {
		return 0x01
	}
	return 0x00
}

func (c *Card) respond(r1 byte, extra ...byte) {
	c.out = append(c.out, 0xFF, r1)
	c.out = append(c.out, extra...)
}

func (c *Card) leaveIdle() {
	if c.rounds > 0 {
		c.rounds--
		return
	}
	c.idle = false
}

func (c *Card) execute(index byte, arg uint32) {
	app := c.app
	c.app = false
	c.Commands = append(c.Commands, Command{Index: index, Arg: arg, App: app})
	sd2 := c.Kind == SDv2 || c.Kind == SDHC

	switch {
	case index == 0:
		c.idle = true
		c.rounds = c.IdleRounds
		c.state = stateCommand
		c.respond(0x01)
	case index == 8 && sd2:
		c.respond(c.r1(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
	case index == 55 && c.Kind != MMC:
		c.app = true
		c.respond(c.r1())
	case index == 41 && app:
		c.leaveIdle()
		c.respond(c.r1())
	case index == 1:
		c.leaveIdle()
		c.respond(c.r1())
	case index == 58:
		ocr := []byte{0x80, 0xFF, 0x80, 0x00}
		if c.Kind == SDHC {
			ocr[0] |= 0x40
		}
		c.respond(c.r1(), ocr...)
	case index == 16:
		c.respond(c.r1() | c.BlockLenResponse)
	case index == 9:
		c.respond(c.r1(), c.packet(c.CSD[:])...)
	case index == 10:
		c.respond(c.r1(), c.packet(c.CID[:])...)
	case index == 12:
		c.state = stateCommand
		c.respond(0x00)
	case index == 23 && app:
		c.respond(c.r1())
	case index == 17, index == 18, index == 24, index == 25:
		off, ok := c.address(arg)
		if !ok || c.idle {
			c.respond(c.r1() | 0x20)
			return
		}
		c.offset = off
		switch index {
		case 17:
			c.respond(0x00, c.packet(c.Image[off:off+SECTOR_SIZE])...)
		case 18:
			c.respond(0x00)
			c.state = stateReadMulti
		case 24:
			c.respond(0x00)
			c.state = stateWriteSingle
		case 25:
			c.respond(0x00)
			c.state = stateWriteMulti
		}
	default:
		c.respond(c.r1() | 0x04)
	}
}

// address converts a command argument into an image offset.
func (c *Card) address(arg uint32) (int64, bool) {
	off := int64(arg)
	if c.Kind == SDHC {
		off *= SECTOR_SIZE
	} else if off%SECTOR_SIZE != 0 {
		return 0, false
	}
	return off, off+SECTOR_SIZE <= int64(len(c.Image))
}

func (c *Card) packet(data []byte) []byte {
	p := make([]byte, 0, c.TokenDelay+len(data)+3)
	for i := 0; i < c.TokenDelay; i++ {
		p = append(p, 0xFF)
	}
	p = append(p, 0xFE)
	p = append(p, data...)
	return append(p, 0x5A, 0xA5)
}

func (c *Card) queueBlock() {
	if c.offset+SECTOR_SIZE > int64(len(c.Image)) {
		return
	}
	c.out = append(c.out, c.packet(c.Image[c.offset:c.offset+SECTOR_SIZE])...)
	c.offset += SECTOR_SIZE
}

func (c *Card) finishWrite() {
	c.Packets++
	resp := byte(0xE5)
	if c.DataResponse != 0 {
		resp = c.DataResponse
	}
	if resp&0x1F == 0x05 {
		if c.offset+SECTOR_SIZE <= int64(len(c.Image)) {
			copy(c.Image[c.offset:], c.data[:SECTOR_SIZE])
			c.offset += SECTOR_SIZE
		} else {
			resp = 0xED
		}
	}
	c.out = append(c.out, resp)
	c.busy = c.BusyBytes
	if c.multi {
		c.state = stateWriteMulti
	} else {
		c.state = stateCommand
	}
}
