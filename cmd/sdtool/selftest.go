package main

import (
	"fmt"
	"io"

	"github.com/rabidaudio/sdspi/diskio"
	"github.com/rabidaudio/sdspi/vfs"
)

// selftest runs the FAT smoke test: mount (or format), create, read back,
// append, stat, list.
func selftest(w io.Writer, drv *diskio.Drive, format bool, label, name string) (err error) {
	short := vfs.ShortName(name)
	if short == "" {
		return fmt.Errorf("no DOS file name can be made from %q", name)
	}
	testFile := "/" + short

	step := func(n int, msg string) { fmt.Fprintf(w, "%d. %s\n", n, msg) }
	ok := func(msg string, args ...any) { fmt.Fprintf(w, "   ok: "+msg+"\n", args...) }

	fmt.Fprintln(w, "=== FAT self test ===")
	step(1, "Mounting filesystem")
	var fsys *vfs.Filesystem
	if format {
		fsys, err = vfs.Format(drv, label)
		if err == nil {
			ok("formatted")
		}
	} else {
		var formatted bool
		fsys, formatted, err = vfs.MountOrFormat(drv, label)
		if err == nil && formatted {
			ok("no volume found, formatted")
		}
	}
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer func() {
		if c := fsys.Close(); err == nil {
			err = c
		}
	}()
	ok("mounted %q", fsys.Label())

	step(2, "Creating "+testFile)
	if err := fsys.WriteFile(testFile, []byte(testData)); err != nil {
		return err
	}
	ok("wrote %d bytes", len(testData))

	step(3, "Reading "+testFile)
	data, err := fsys.ReadFile(testFile)
	if err != nil {
		return err
	}
	if string(data[:min(len(data), len(testData))]) != testData {
		return fmt.Errorf("read back %q, want %q", data, testData)
	}
	ok("read %d bytes: %q", len(data), data)

	step(4, "Appending to "+testFile)
	if err := fsys.AppendFile(testFile, []byte(appendData)); err != nil {
		return err
	}
	ok("appended %d bytes", len(appendData))

	step(5, "Checking file size")
	fi, err := fsys.Stat(testFile)
	if err != nil {
		return err
	}
	if fi.Size() < int64(len(testData)+len(appendData)) {
		return fmt.Errorf("%v is %d bytes after append", testFile, fi.Size())
	}
	ok("%d bytes", fi.Size())

	step(6, "Listing root directory")
	if err := list(w, fsys, "/"); err != nil {
		return err
	}
	fmt.Fprintln(w, "=== FAT self test passed ===")
	return nil
}
