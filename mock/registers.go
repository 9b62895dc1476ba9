package mock

// DefaultCID identifies an emulated card: manufacturer 0x03, OEM "SD",
// product "SU04G" revision 8.0, made October 2022.
var DefaultCID = [16]byte{
	0x03, 'S', 'D', 'S', 'U', '0', '4', 'G',
	0x80, 0x12, 0x34, 0x56, 0x78, 0x01, 0x6A, 0x3B,
}

// CSDv2 builds a version 2.0 (high capacity) CSD for a card of the given
// number of sectors, which must be a multiple of 1024.
func CSDv2(sectors uint32) [16]byte {
	csize := sectors/1024 - 1
	return [16]byte{
		0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00,
		byte(csize>>16) & 0x3F, byte(csize >> 8), byte(csize),
		0x7F, 0x80, 0x0A, 0x40, 0x00, 0x8B,
	}
}

// CSDv1 builds a version 1.0 CSD with 512 byte read blocks, picking the
// smallest size multiplier that fits sectors into the 12-bit C_SIZE.
func CSDv1(sectors uint32) [16]byte {
	mult := uint32(0)
	for mult < 7 && sectors>>(mult+2) > 4096 {
		mult++
	}
	csize := sectors>>(mult+2) - 1
	return [16]byte{
		0x00, 0x26, 0x00, 0x32, 0x5F, 0x59,
		0x80 | byte(csize>>10)&0x03,
		byte(csize >> 2),
		byte(csize&0x03)<<6 | 0x2D,
		0xB4 | byte(mult>>1)&0x03,
		byte(mult&0x01)<<7 | 0x7F,
		0x80, 0x0A, 0x40, 0x00, 0x01,
	}
}
