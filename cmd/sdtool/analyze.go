package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rabidaudio/sdspi/trace"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		clk, cs, mosi, miso string
		data               bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Decode SD commands from Saleae binary digital captures of the SPI bus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			txs, err := scanCapture(clk, cs, mosi, miso)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, tx := range txs {
				for _, sd := range trace.Decode(tx.SDO, tx.SDI) {
					fmt.Fprintf(w, "t=%.6f %v\n", tx.StartTime(), sd)
					if data {
						printBlocks(w, sd)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clk, "clk", "digital_0.bin", "capture file of the SPI clock channel")
	cmd.Flags().StringVar(&cs, "ss", "digital_1.bin", "capture file of the chip-select channel")
	cmd.Flags().StringVar(&mosi, "mosi", "digital_2.bin", "capture file of the host to card data channel")
	cmd.Flags().StringVar(&miso, "miso", "digital_3.bin", "capture file of the card to host data channel")
	cmd.Flags().BoolVar(&data, "data", false, "print data block contents")
	return cmd
}

func scanCapture(fclk, fcs, fmosi, fmiso string) ([]analyzers.TxSPI, error) {
	var channels [4]*saleae.DigitalFile
	for i, name := range []string{fclk, fcs, fmosi, fmiso} {
		df, err := opendigital(name)
		if err != nil {
			return nil, err
		}
		channels[i] = df
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(channels[0], channels[1], channels[2], channels[3])
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return df, nil
}

func printBlocks(w io.Writer, tx trace.Transaction) {
	for i, b := range tx.Blocks {
		if len(b.Data) == 0 {
			continue
		}
		fmt.Fprintf(w, "  block %d token=0x%02x\n", i, b.Token)
		for off := 0; off < len(b.Data); off += 32 {
			fmt.Fprintf(w, "    %04x % x\n", off, b.Data[off:min(off+32, len(b.Data))])
		}
	}
}
