package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rabidaudio/sdspi/sdcard"
	"github.com/rabidaudio/sdspi/vfs"
	"github.com/spf13/cobra"
)

func newInfoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Initialize the card and print its type, size and identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.open()
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := c.CardInfo()
			if err != nil {
				return err
			}
			sectors, err := c.SectorCount()
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), info, sectors, c.OCR())
			return nil
		},
	}
}

func printInfo(w io.Writer, info sdcard.CardInfo, sectors uint32, ocr [4]byte) {
	fmt.Fprintf(w, "Card type:     %v\n", info.CardType)
	fmt.Fprintf(w, "Sectors:       %d\n", sectors)
	fmt.Fprintf(w, "Capacity:      %d MB\n", info.Capacity>>20)
	fmt.Fprintf(w, "Block size:    %d\n", info.BlockSize)
	fmt.Fprintf(w, "Erase block:   %d sectors\n", info.EraseBlockSectors())
	fmt.Fprintf(w, "CSD version:   %d.0\n", info.CSD.CSDStruct+1)
	if info.CardType.IsSD() && info.CardType != sdcard.TypeV1 {
		fmt.Fprintf(w, "OCR:           % x\n", ocr)
	}
	fmt.Fprintf(w, "CID:           %v\n", info.CID)
	fmt.Fprintf(w, "CSD raw:       % x\n", info.RawCSD)
	fmt.Fprintf(w, "CID raw:       % x\n", info.RawCID)
}

func newReadCmd(opts *options) *cobra.Command {
	var (
		sector uint32
		count  int
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Hex dump sectors from the card",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.open()
			if err != nil {
				return err
			}
			defer c.Close()

			buf := make([]byte, count*sdcard.BLOCK_SIZE)
			if err := c.ReadBlocks(buf, sector, count); err != nil {
				return err
			}
			dump := hex.Dumper(cmd.OutOrStdout())
			defer dump.Close()
			_, err = dump.Write(buf)
			return err
		},
	}
	cmd.Flags().Uint32Var(&sector, "sector", 0, "first sector")
	cmd.Flags().IntVar(&count, "count", 1, "number of sectors")
	return cmd
}

func newLsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory on the card's FAT volume",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			drv, closefn, err := opts.openDrive()
			if err != nil {
				return err
			}
			defer closefn()

			fsys, err := vfs.Mount(drv)
			if err != nil {
				return err
			}
			defer fsys.Close()
			return list(cmd.OutOrStdout(), fsys, dir)
		},
	}
}

func list(w io.Writer, fsys *vfs.Filesystem, dir string) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, fi := range entries {
		kind := "-"
		if fi.IsDir() {
			kind = "d"
		}
		fmt.Fprintf(w, "%s %10d %s\n", kind, fi.Size(), fi.Name())
	}
	return nil
}

const (
	testData   = "Hello from the SD card self test!\r\n"
	appendData = "This is appended data.\r\n"
)

func newSelftestCmd(opts *options) *cobra.Command {
	var (
		format bool
		label  string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Mount the FAT volume and write, read, append and list a test file",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			drv, closefn, err := opts.openDrive()
			if err != nil {
				return err
			}
			defer func() {
				if c := closefn(); err == nil {
					err = c
				}
			}()
			return selftest(cmd.OutOrStdout(), drv, format, label, name)
		},
	}
	cmd.Flags().BoolVar(&format, "format", false, "format the card before testing")
	cmd.Flags().StringVar(&label, "label", vfs.DEFAULT_LABEL, "volume label when formatting")
	cmd.Flags().StringVar(&name, "file", "test.txt", "test file name, converted to 8.3 form")
	return cmd
}
