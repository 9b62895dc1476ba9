package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/diskfs/go-diskfs/backend"
	"github.com/rabidaudio/sdspi/diskio"
	"golang.org/x/exp/constraints"
)

const SECTOR_SIZE = diskio.SECTOR_SIZE

var errNoOSFile = errors.New("vfs: card storage has no os file")

func alignDown[T constraints.Integer](v, align T) T {
	return v - v%align
}

func alignUp[T constraints.Integer](v, align T) T {
	return alignDown(v+align-1, align)
}

// Storage presents a drive as a random-access disk image so go-diskfs can
// lay a filesystem on it. Unaligned accesses are widened to whole sectors.
type Storage struct {
	drv  *diskio.Drive
	size int64
	pos  int64
}

// ensure interface conformation
var _ backend.Storage = (*Storage)(nil)
var _ backend.WritableFile = (*Storage)(nil)

// NewStorage wraps an initialized drive, sizing it from the card's CSD.
func NewStorage(drv *diskio.Drive) (*Storage, error) {
	var sectors uint32
	if err := drv.Ioctl(0, diskio.GetSectorCount, &sectors).Err(); err != nil {
		return nil, fmt.Errorf("get sector count: %w", err)
	}
	return &Storage{drv: drv, size: int64(sectors) * SECTOR_SIZE}, nil
}

func (s *Storage) Size() int64 {
	return s.size
}

func (s *Storage) readSectors(buf []byte, off int64) error {
	return s.drv.Read(0, buf, uint32(off/SECTOR_SIZE), uint(len(buf)/SECTOR_SIZE)).Err()
}

func (s *Storage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("vfs: negative offset %d", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := len(p)
	if end := off + int64(len(p)); end > s.size {
		p = p[:s.size-off]
	}
	if len(p) == 0 {
		return 0, nil
	}

	start := alignDown(off, SECTOR_SIZE)
	end := alignUp(off+int64(len(p)), SECTOR_SIZE)
	buf := make([]byte, end-start)
	if err := s.readSectors(buf, start); err != nil {
		return 0, fmt.Errorf("read sectors %d-%d: %w", start/SECTOR_SIZE, end/SECTOR_SIZE-1, err)
	}
	n := copy(p, buf[off-start:])
	if n < want {
		return n, io.EOF
	}
	return n, nil
}

func (s *Storage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("vfs: write of %d bytes at %d outside %d byte card", len(p), off, s.size)
	}
	if len(p) == 0 {
		return 0, nil
	}

	start := alignDown(off, SECTOR_SIZE)
	end := alignUp(off+int64(len(p)), SECTOR_SIZE)
	buf := make([]byte, end-start)
	// keep the bytes around a partial sector
	head, tail := start != off, end != off+int64(len(p))
	if head {
		if err := s.readSectors(buf[:SECTOR_SIZE], start); err != nil {
			return 0, err
		}
	}
	if tail && (!head || end-start > SECTOR_SIZE) {
		if err := s.readSectors(buf[len(buf)-SECTOR_SIZE:], end-SECTOR_SIZE); err != nil {
			return 0, err
		}
	}
	copy(buf[off-start:], p)
	if err := s.drv.Write(0, buf, uint32(start/SECTOR_SIZE), uint(len(buf)/SECTOR_SIZE)).Err(); err != nil {
		return 0, fmt.Errorf("write sectors %d-%d: %w", start/SECTOR_SIZE, end/SECTOR_SIZE-1, err)
	}
	return len(p), nil
}

func (s *Storage) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *Storage) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += s.pos
	case io.SeekEnd:
		offset += s.size
	default:
		return s.pos, fmt.Errorf("vfs: invalid whence %d", whence)
	}
	if offset < 0 {
		return s.pos, fmt.Errorf("vfs: negative position %d", offset)
	}
	s.pos = offset
	return s.pos, nil
}

func (s *Storage) Stat() (fs.FileInfo, error) {
	return storageInfo{size: s.size, modTime: diskio.UnpackFatTime(diskio.FatTime())}, nil
}

// Close leaves the drive to its owner.
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) Sys() (*os.File, error) {
	return nil, errNoOSFile
}

func (s *Storage) Writable() (backend.WritableFile, error) {
	return s, nil
}

type storageInfo struct {
	size    int64
	modTime time.Time
}

func (i storageInfo) Name() string       { return "sdcard" }
func (i storageInfo) Size() int64        { return i.size }
func (i storageInfo) Mode() fs.FileMode  { return 0o644 }
func (i storageInfo) ModTime() time.Time { return i.modTime }
func (i storageInfo) IsDir() bool        { return false }
func (i storageInfo) Sys() any           { return nil }
