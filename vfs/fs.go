// Package vfs mounts a FAT32 filesystem on an SD card through the diskio
// interface.
package vfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/rabidaudio/sdspi/diskio"
)

const DEFAULT_LABEL = "SDCARD"

// Filesystem is the FAT32 volume on a card. The whole card is one volume
// with no partition table.
type Filesystem struct {
	filesystem.FileSystem
	Storage *Storage
	drv     *diskio.Drive
}

// ShortName converts a file name to its DOS 8.3 form. Only ASCII letters
// and digits are kept, uppercased, with the base cut to 8 chars and the
// extension to 3. It returns "" when nothing of the base survives.
func ShortName(name string) string {
	// https://en.wikipedia.org/wiki/8.3_filename
	ext := path.Ext(name)
	base := dosChars(strings.TrimSuffix(name, ext), 8)
	if base == "" {
		return ""
	}
	if ext = dosChars(ext, 3); ext != "" {
		return base + "." + ext
	}
	return base
}

func dosChars(s string, n int) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(s) {
		if sb.Len() == n {
			break
		}
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func open(drv *diskio.Drive) (*disk.Disk, *Storage, error) {
	if drv.Status(0)&diskio.StatusNoInit != 0 {
		if st := drv.Initialize(0); st != 0 {
			return nil, nil, fmt.Errorf("vfs: initialize drive: %v", st)
		}
	}
	storage, err := NewStorage(drv)
	if err != nil {
		return nil, nil, err
	}
	dsk, err := diskfs.OpenBackend(storage, diskfs.WithSectorSize(diskfs.SectorSize512))
	if err != nil {
		return nil, nil, fmt.Errorf("vfs: open card: %w", err)
	}
	return dsk, storage, nil
}

// Format creates a new FAT32 volume spanning the card. Everything on it is
// lost.
func Format(drv *diskio.Drive, label string) (*Filesystem, error) {
	dsk, storage, err := open(drv)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = DEFAULT_LABEL
	}
	fatfs, err := dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: label,
	})
	if err != nil {
		return nil, fmt.Errorf("vfs: format: %w", err)
	}
	return &Filesystem{FileSystem: fatfs, Storage: storage, drv: drv}, nil
}

// Mount opens the existing volume on the card.
func Mount(drv *diskio.Drive) (*Filesystem, error) {
	dsk, storage, err := open(drv)
	if err != nil {
		return nil, err
	}
	fatfs, err := dsk.GetFilesystem(0)
	if err != nil {
		return nil, fmt.Errorf("vfs: mount: %w", err)
	}
	if fatfs.Type() != filesystem.TypeFat32 {
		return nil, fmt.Errorf("vfs: mount: unsupported filesystem type %v", fatfs.Type())
	}
	return &Filesystem{FileSystem: fatfs, Storage: storage, drv: drv}, nil
}

// MountOrFormat mounts the card, formatting it first if it holds no
// readable volume.
func MountOrFormat(drv *diskio.Drive, label string) (fsys *Filesystem, formatted bool, err error) {
	fsys, err = Mount(drv)
	if err == nil {
		return fsys, false, nil
	}
	fsys, err = Format(drv, label)
	return fsys, err == nil, err
}

// WriteFile writes data at the start of the named file, creating it if
// needed. Existing bytes past len(data) are kept.
func (f *Filesystem) WriteFile(name string, data []byte) error {
	return f.write(name, data, false)
}

// AppendFile adds data to the end of the named file, creating it if needed.
func (f *Filesystem) AppendFile(name string, data []byte) error {
	return f.write(name, data, true)
}

func (f *Filesystem) write(name string, data []byte, appending bool) (err error) {
	file, err := f.OpenFile(name, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("open %v: %w", name, err)
	}
	defer func() {
		if c := file.Close(); err == nil {
			err = c
		}
	}()
	if appending {
		if _, err = file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %v: %w", name, err)
		}
	}
	if _, err = file.Write(data); err != nil {
		return fmt.Errorf("write %v: %w", name, err)
	}
	return nil
}

func (f *Filesystem) ReadFile(name string) ([]byte, error) {
	file, err := f.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", name, err)
	}
	defer file.Close() // ignore error: file was opened read-only.
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %v: %w", name, err)
	}
	return data, nil
}

// Stat looks the named entry up in its parent directory. FAT names are
// case-insensitive.
func (f *Filesystem) Stat(name string) (os.FileInfo, error) {
	dir, base := path.Split(path.Clean("/" + name))
	entries, err := f.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %v: %w", name, err)
	}
	for _, fi := range entries {
		if strings.EqualFold(fi.Name(), base) {
			return fi, nil
		}
	}
	return nil, fmt.Errorf("stat %v: %w", name, os.ErrNotExist)
}

// Close syncs the drive. The card itself stays initialized.
func (f *Filesystem) Close() error {
	return f.drv.Ioctl(0, diskio.CtrlSync, nil).Err()
}
