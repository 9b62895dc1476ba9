package sdcard

import (
	"fmt"
	"strings"
)

// CSD is the decoded card-specific data register.
type CSD struct {
	CSDStruct           uint8 // 0: version 1.0, 1: version 2.0 (high capacity)
	SysSpecVersion      uint8
	TAAC                uint8
	NSAC                uint8
	MaxBusClkFreq       uint8
	CardCmdClasses      uint16
	RdBlockLen          uint8
	PartBlockRead       uint8
	WrBlockMisalign     uint8
	RdBlockMisalign     uint8
	DSRImpl             uint8
	DeviceSize          uint32
	MaxRdCurrentVDDMin  uint8
	MaxRdCurrentVDDMax  uint8
	MaxWrCurrentVDDMin  uint8
	MaxWrCurrentVDDMax  uint8
	DeviceSizeMul       uint8
	EraseGrSize         uint8
	EraseGrMul          uint8
	WrProtectGrSize     uint8
	WrProtectGrEnable   uint8
	ManDeflECC          uint8
	WrSpeedFact         uint8
	MaxWrBlockLen       uint8
	WriteBlockPartial   uint8
	ContentProtectAppli uint8
	FileFormatGroup     uint8
	CopyFlag            uint8
	PermWrProtect       uint8
	TempWrProtect       uint8
	FileFormat          uint8
	ECC                 uint8
	CRC                 uint8
}

// DecodeCSD unpacks a raw CSD register. For version 2.0 structures
// DeviceSize holds the 22-bit C_SIZE and the version 1.0 current and
// multiplier fields, which are reserved there, stay zero.
func DecodeCSD(b [16]byte) CSD {
	var c CSD
	c.CSDStruct = (b[0] & 0xC0) >> 6
	c.SysSpecVersion = (b[0] & 0x3C) >> 2
	c.TAAC = b[1]
	c.NSAC = b[2]
	c.MaxBusClkFreq = b[3]
	c.CardCmdClasses = uint16(b[4])<<4 | uint16(b[5]&0xF0)>>4
	c.RdBlockLen = b[5] & 0x0F
	c.PartBlockRead = (b[6] & 0x80) >> 7
	c.WrBlockMisalign = (b[6] & 0x40) >> 6
	c.RdBlockMisalign = (b[6] & 0x20) >> 5
	c.DSRImpl = (b[6] & 0x10) >> 4
	if c.CSDStruct == 1 {
		c.DeviceSize = uint32(b[7]&0x3F)<<16 | uint32(b[8])<<8 | uint32(b[9])
	} else {
		c.DeviceSize = uint32(b[6]&0x03)<<10 | uint32(b[7])<<2 | uint32(b[8]&0xC0)>>6
		c.MaxRdCurrentVDDMin = (b[8] & 0x38) >> 3
		c.MaxRdCurrentVDDMax = b[8] & 0x07
		c.MaxWrCurrentVDDMin = (b[9] & 0xE0) >> 5
		c.MaxWrCurrentVDDMax = (b[9] & 0x1C) >> 2
		c.DeviceSizeMul = (b[9]&0x03)<<1 | (b[10]&0x80)>>7
	}
	c.EraseGrSize = (b[10] & 0x7C) >> 2
	c.EraseGrMul = (b[10]&0x03)<<3 | (b[11]&0xE0)>>5
	c.WrProtectGrSize = b[11] & 0x1F
	c.WrProtectGrEnable = (b[12] & 0x80) >> 7
	c.ManDeflECC = (b[12] & 0x60) >> 5
	c.WrSpeedFact = (b[12] & 0x1C) >> 2
	c.MaxWrBlockLen = (b[12]&0x03)<<2 | (b[13]&0xC0)>>6
	c.WriteBlockPartial = (b[13] & 0x20) >> 5
	c.ContentProtectAppli = b[13] & 0x01
	c.FileFormatGroup = (b[14] & 0x80) >> 7
	c.CopyFlag = (b[14] & 0x40) >> 6
	c.PermWrProtect = (b[14] & 0x20) >> 5
	c.TempWrProtect = (b[14] & 0x10) >> 4
	c.FileFormat = (b[14] & 0x0C) >> 2
	c.ECC = b[14] & 0x03
	c.CRC = (b[15] & 0xFE) >> 1
	return c
}

// Capacity returns the card size in bytes.
func (c CSD) Capacity() uint64 {
	if c.CSDStruct == 1 {
		return (uint64(c.DeviceSize) + 1) << 10 * BLOCK_SIZE
	}
	return (uint64(c.DeviceSize) + 1) << (uint64(c.DeviceSizeMul) + 2 + uint64(c.RdBlockLen))
}

func (c CSD) SectorCount() uint32 {
	return uint32(c.Capacity() / BLOCK_SIZE)
}

// SectorCount computes the number of 512-byte sectors straight from a raw
// CSD. High capacity cards only contribute the low 16 bits of C_SIZE.
func SectorCount(csd [16]byte) uint32 {
	if csd[0]&0xC0 == 0x40 {
		csize := uint32(csd[9]) + uint32(csd[8])<<8 + 1
		return csize << 10
	}
	n := (csd[5] & 15) + (csd[10]&128)>>7 + (csd[9]&3)<<1 + 2
	if n < 9 {
		return 0
	}
	csize := uint32(csd[8]>>6) + uint32(csd[7])<<2 + uint32(csd[6]&3)<<10 + 1
	return csize << (n - 9)
}

// CID is the decoded card identification register.
type CID struct {
	ManufacturerID uint8
	OEMAppliID     uint16
	ProdName1      uint32
	ProdName2      uint8
	ProdRev        uint8
	ProdSN         uint32
	Reserved1      uint8
	ManufactDate   uint16
	CRC            uint8
}

func DecodeCID(b [16]byte) CID {
	return CID{
		ManufacturerID: b[0],
		OEMAppliID:     uint16(b[1])<<8 | uint16(b[2]),
		ProdName1:      uint32(b[3])<<24 | uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]),
		ProdName2:      b[7],
		ProdRev:        b[8],
		ProdSN:         uint32(b[9])<<24 | uint32(b[10])<<16 | uint32(b[11])<<8 | uint32(b[12]),
		Reserved1:      (b[13] & 0xF0) >> 4,
		ManufactDate:   uint16(b[13]&0x0F)<<8 | uint16(b[14]),
		CRC:            (b[15] & 0xFE) >> 1,
	}
}

// ProductName returns the five character product name.
func (c CID) ProductName() string {
	name := []byte{
		byte(c.ProdName1 >> 24),
		byte(c.ProdName1 >> 16),
		byte(c.ProdName1 >> 8),
		byte(c.ProdName1),
		c.ProdName2,
	}
	return strings.TrimRight(string(name), " \x00")
}

// Revision splits the BCD product revision, e.g. 0x21 is 2.1.
func (c CID) Revision() (major, minor uint8) {
	return c.ProdRev >> 4, c.ProdRev & 0x0F
}

// Manufactured decodes the SD manufacturing date: years since 2000 in
// the high byte, the month in the low nibble.
func (c CID) Manufactured() (year, month int) {
	return 2000 + int(c.ManufactDate>>4), int(c.ManufactDate & 0x0F)
}

func (c CID) String() string {
	major, minor := c.Revision()
	year, month := c.Manufactured()
	return fmt.Sprintf("mid=0x%02x oem=%q name=%q rev=%d.%d sn=0x%08x date=%04d-%02d",
		c.ManufacturerID,
		string([]byte{byte(c.OEMAppliID >> 8), byte(c.OEMAppliID)}),
		c.ProductName(), major, minor, c.ProdSN, year, month)
}

// CardInfo collects everything known about an initialized card.
type CardInfo struct {
	CSD       CSD
	CID       CID
	RawCSD    [16]byte
	RawCID    [16]byte
	Capacity  uint64 // bytes
	BlockSize uint32
	CardType  CardType
}

// EraseBlockSectors is the erase unit in 512-byte sectors.
func (ci CardInfo) EraseBlockSectors() uint32 {
	if ci.CardType == TypeMMC {
		return (uint32(ci.CSD.EraseGrSize) + 1) * (uint32(ci.CSD.EraseGrMul) + 1)
	}
	csd := ci.RawCSD
	return (uint32(csd[10]&0x3F)<<1 | uint32(csd[11]>>7)) + 1
}

func (d *Device) ReadCSD() ([16]byte, error) {
	return d.readRegister(CMD9)
}

func (d *Device) ReadCID() ([16]byte, error) {
	return d.readRegister(CMD10)
}

func (d *Device) readRegister(index byte) (reg [16]byte, err error) {
	if err := d.checkReady(); err != nil {
		return reg, err
	}
	defer d.release(&err)

	r1, err := d.command(index, 0, CRC_DUMMY)
	err = expect(index, false, r1, err)
	if err == nil {
		err = d.receivePacket(reg[:])
	}
	if err != nil {
		return reg, fmt.Errorf("%w: %v: %w", ErrRegisterRead, CommandName(index, false), err)
	}
	return reg, nil
}

// CardInfo reads and decodes both identification registers.
func (d *Device) CardInfo() (CardInfo, error) {
	rawCSD, err := d.ReadCSD()
	if err != nil {
		return CardInfo{}, err
	}
	rawCID, err := d.ReadCID()
	if err != nil {
		return CardInfo{}, err
	}
	info := CardInfo{
		CSD:       DecodeCSD(rawCSD),
		CID:       DecodeCID(rawCID),
		RawCSD:    rawCSD,
		RawCID:    rawCID,
		BlockSize: BLOCK_SIZE,
		CardType:  d.typ,
	}
	if d.typ == TypeV2HC {
		// SDHC shortcut: device size from CSD bytes 8 and 9 alone.
		info.CSD.DeviceSize = uint32(rawCSD[8])<<8 | uint32(rawCSD[9])
	}
	info.Capacity = info.CSD.Capacity()
	return info, nil
}

// SectorCount returns the number of 512-byte sectors on the card.
func (d *Device) SectorCount() (uint32, error) {
	csd, err := d.ReadCSD()
	if err != nil {
		return 0, err
	}
	return SectorCount(csd), nil
}
