package diskio

import "time"

// The timestamp stamped on every file, 2024-01-01 12:00:00. There is no
// real-time clock behind the card.
var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// FatTime returns the DOS date/time FAT records for new and modified files.
func FatTime() uint32 {
	return PackFatTime(fixedTime)
}

// PackFatTime encodes t in the DOS layout: year since 1980 in bits 31-25,
// month 24-21, day 20-16, hour 15-11, minute 10-5 and seconds/2 in 4-0.
// Years outside 1980-2107 are clamped.
func PackFatTime(t time.Time) uint32 {
	year := min(max(t.Year(), 1980), 2107) - 1980
	return uint32(year)<<25 |
		uint32(t.Month())<<21 |
		uint32(t.Day())<<16 |
		uint32(t.Hour())<<11 |
		uint32(t.Minute())<<5 |
		uint32(t.Second()/2)
}

func UnpackFatTime(v uint32) time.Time {
	return time.Date(
		int(v>>25)+1980,
		time.Month(v>>21&0x0F),
		int(v>>16&0x1F),
		int(v>>11&0x1F),
		int(v>>5&0x3F),
		int(v&0x1F)*2,
		0, time.UTC)
}
