package sdcard

import (
	"fmt"
	"strings"
)

// CardType is the card family resolved during initialization. The values
// match the type codes FatFs's MMC_GET_TYPE ioctl reports.
type CardType uint8

const (
	TypeUnknown CardType = 0x00
	TypeMMC     CardType = 0x01
	TypeV1      CardType = 0x02
	TypeV2      CardType = 0x04
	TypeV2HC    CardType = 0x06
)

func (t CardType) String() string {
	switch t {
	case TypeMMC:
		return "MMC"
	case TypeV1:
		return "SD V1.x"
	case TypeV2:
		return "SD V2.0"
	case TypeV2HC:
		return "SDHC"
	default:
		return "Unknown"
	}
}

// HighCapacity reports whether the card is block addressed.
func (t CardType) HighCapacity() bool {
	return t == TypeV2HC
}

func (t CardType) IsSD() bool {
	return t == TypeV1 || t == TypeV2 || t == TypeV2HC
}

// R1 is the single status byte returned after a command.
type R1 byte

const (
	R1_IDLE           R1 = 0x01
	R1_ERASE_RESET    R1 = 0x02
	R1_ILLEGAL        R1 = 0x04
	R1_CRC_ERROR      R1 = 0x08
	R1_ERASE_SEQUENCE R1 = 0x10
	R1_ADDRESS_ERROR  R1 = 0x20
	R1_PARAM_ERROR    R1 = 0x40
	R1_NOT_READY      R1 = 0x80
)

// Valid reports whether the byte is a response at all: bit 7 stays set
// while the card has nothing to say.
func (r R1) Valid() bool { return r&R1_NOT_READY == 0 }
func (r R1) Idle() bool { return r&R1_IDLE != 0 }
func (r R1) EraseReset() bool { return r&R1_ERASE_RESET != 0 }
func (r R1) IllegalCommand() bool { return r&R1_ILLEGAL != 0 }
func (r R1) CRCError() bool { return r&R1_CRC_ERROR != 0 }
func (r R1) EraseSequenceError() bool { return r&R1_ERASE_SEQUENCE != 0 }
func (r R1) AddressError() bool { return r&R1_ADDRESS_ERROR != 0 }
func (r R1) ParameterError() bool { return r&R1_PARAM_ERROR != 0 }
func (r R1) hasFlag(flag R1) bool { return r&flag != 0 }
func (r R1) errorBits() R1 { return r &^ (R1_IDLE | R1_NOT_READY) }
func (r R1) Failed() bool { return !r.Valid() || r.errorBits() != 0 }

var r1Names = []struct {
	flag R1
	name string
}{
	{R1_IDLE, "idle"},
	{R1_ERASE_RESET, "erase-reset"},
	{R1_ILLEGAL, "illegal-command"},
	{R1_CRC_ERROR, "crc-error"},
	{R1_ERASE_SEQUENCE, "erase-sequence-error"},
	{R1_ADDRESS_ERROR, "address-error"},
	{R1_PARAM_ERROR, "parameter-error"},
	{R1_NOT_READY, "not-ready"},
}

func (r R1) String() string {
	if r == 0 {
		return "0x00(ok)"
	}
	var flags []string
	for _, n := range r1Names {
		if r.hasFlag(n.flag) {
			flags = append(flags, n.name)
		}
	}
	return fmt.Sprintf("0x%02x(%s)", byte(r), strings.Join(flags, "|"))
}
