// Package cmd holds the canusb command tree.
package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-canusb-server/internal/lawicel"
	"github.com/kstaniek/go-canusb-server/internal/logging"
	"github.com/kstaniek/go-canusb-server/internal/serial"
)

var rootCmd = &cobra.Command{
	Use:          "canusb",
	Short:        "Talk to a Lawicel CANUSB adapter",
	Long:         `Open a CANUSB (or compatible ASCII protocol) adapter, send and dump frames, and compute acceptance filters.`,
	SilenceUsage: true,
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

var (
	comPort    string
	baudRate   int
	bitrate    string
	driver     string
	timestamps bool
	retries    uint
	debug      bool
)

func init() {
	log.SetFlags(0)
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&comPort, "port", "p", "/dev/ttyUSB0", "adapter serial port")
	pf.IntVarP(&baudRate, "baudrate", "b", lawicel.DefaultBaud, "serial baud rate")
	pf.StringVarP(&bitrate, "bitrate", "r", "500k", "CAN bitrate (10k..1m or btr:XXYY)")
	pf.StringVar(&driver, "driver", serial.DriverBugst, "serial driver: bugst|tarm")
	pf.BoolVarP(&timestamps, "timestamps", "t", false, "enable adapter timestamps")
	pf.UintVar(&retries, "retries", 2, "extra open attempts")
	pf.BoolVarP(&debug, "debug", "d", false, "debug logging")
}

func logger() *slog.Logger {
	lvl := slog.LevelWarn
	if debug {
		lvl = slog.LevelDebug
	}
	return logging.New("text", lvl, os.Stderr)
}

// openAdapter opens the adapter with the persistent flags and the given
// acceptance registers.
func openAdapter(ctx context.Context, code lawicel.CodeRegister, mask lawicel.MaskRegister) (*lawicel.Channel, error) {
	br, err := lawicel.ParseBitrate(bitrate)
	if err != nil {
		return nil, err
	}
	cfg := lawicel.Default(comPort, br).WithFilter(code, mask)
	cfg.Baud = baudRate
	cfg.Timestamps = timestamps
	cfg.Retries = retries
	cfg.Logger = logger()
	return lawicel.Open(ctx, cfg, serial.Opener(driver))
}
