// sdtool talks to an SD card on a SPI bus: identify it, dump sectors, run
// the FAT self test, or decode a logic analyzer capture of the traffic.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts     = defaultOptions()
		logLevel string
	)
	root := &cobra.Command{
		Use:           "sdtool",
		Short:         "SD card over SPI utility",
		Long:          "Initialize, inspect and test SD/MMC cards attached to a SPI bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			log.SetLevel(level)
			opts.log = log
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.transport, "transport", opts.transport, "bus driver: rpio|periph|mock")
	pf.StringVar(&opts.spidev, "spidev", "", "SPI port: rpio device number, or periph port name (e.g. /dev/spidev0.0)")
	pf.StringVar(&opts.cs, "cs", opts.cs, "chip-select GPIO pin")
	pf.IntVar(&opts.speed, "speed", opts.speed, "data transfer clock in Hz")
	pf.StringVar(&opts.image, "image", "", "card image file for the mock transport")
	pf.StringVar(&opts.kind, "kind", opts.kind, "mock card kind: mmc|sdv1|sdv2|sdhc")
	pf.Int64Var(&opts.size, "size", opts.size, "mock card size in bytes when the image doesn't exist yet")
	pf.StringVar(&logLevel, "log-level", "warning", "log level: trace|debug|info|warning|error")

	root.AddCommand(
		newInfoCmd(opts),
		newReadCmd(opts),
		newLsCmd(opts),
		newSelftestCmd(opts),
		newAnalyzeCmd(),
	)
	return root
}
