package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-canusb-server/internal/lawicel"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print adapter serial number and status flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := openAdapter(cmd.Context(), lawicel.AcceptAllCode, lawicel.AcceptAllMask)
		if err != nil {
			return err
		}
		defer ch.Close()
		sn, err := ch.SerialNumber()
		if err != nil {
			return fmt.Errorf("serial number: %w", err)
		}
		st, err := ch.Status()
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "port:    %s\n", comPort)
		fmt.Fprintf(out, "serial:  %s\n", sn)
		fmt.Fprintf(out, "bitrate: %s\n", bitrate)
		fmt.Fprintf(out, "status:  0x%02X %s\n", uint8(st), st)
		return nil
	},
}
